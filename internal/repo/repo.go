package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stallfront/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVendorExists signals a duplicate profile create for the same vendor
// identity. Callers rely on it to keep resubmission idempotent.
var ErrVendorExists = errors.New("vendor profile already exists")

const vendorColumns = `vendor_id, store_name, owner_name, COALESCE(phone,''), COALESCE(location,''),
	bio, COALESCE(category,''), COALESCE(social_json,''), COALESCE(logo_url,''), COALESCE(logo_asset_id,''),
	payout_recipient_id, bank_code, account_name, verification_status, created_at`

func scanVendor(scan func(dest ...any) error) (domain.VendorProfile, error) {
	var p domain.VendorProfile
	var socialJSON string
	err := scan(&p.VendorID, &p.StoreName, &p.OwnerName, &p.Phone, &p.Location,
		&p.Bio, &p.Category, &socialJSON, &p.LogoURL, &p.LogoAssetID,
		&p.PayoutRecipientID, &p.BankCode, &p.AccountName, &p.VerificationStatus, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if socialJSON != "" {
		_ = json.Unmarshal([]byte(socialJSON), &p.Social)
	}
	return p, nil
}

// InsertVendorProfileTx inserts a vendor profile, failing with ErrVendorExists
// when a profile with the same vendor id is already present.
func (r Repo) InsertVendorProfileTx(ctx context.Context, tx *sql.Tx, p domain.VendorProfile) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM vendors WHERE vendor_id=?`, p.VendorID).Scan(&one)
	if err == nil {
		return ErrVendorExists
	}
	if err != sql.ErrNoRows {
		return err
	}
	socialJSON, err := json.Marshal(p.Social)
	if err != nil {
		return fmt.Errorf("marshal social links: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO vendors(
		vendor_id, store_name, owner_name, phone, location, bio, category, social_json,
		logo_url, logo_asset_id, payout_recipient_id, bank_code, account_name,
		verification_status, created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.VendorID, p.StoreName, p.OwnerName, nullable(p.Phone), nullable(p.Location),
		p.Bio, nullable(p.Category), string(socialJSON), nullable(p.LogoURL), nullable(p.LogoAssetID),
		p.PayoutRecipientID, p.BankCode, p.AccountName, p.VerificationStatus, p.CreatedAt)
	return err
}

func (r Repo) GetVendorProfile(ctx context.Context, vendorID string) (domain.VendorProfile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE vendor_id=?`, vendorID)
	return scanVendor(row.Scan)
}

func (r Repo) ListVendorProfiles(ctx context.Context) ([]domain.VendorProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+vendorColumns+` FROM vendors ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VendorProfile
	for rows.Next() {
		p, err := scanVendor(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetVerificationStatus(ctx context.Context, vendorID, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE vendors SET verification_status=? WHERE vendor_id=?`, status, vendorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWizardState returns the raw persisted wizard document for a vendor.
func (r Repo) GetWizardState(ctx context.Context, vendorID string) (string, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT state_json FROM wizard_states WHERE vendor_id=?`, vendorID).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return raw, err
}

func (r Repo) UpsertWizardState(ctx context.Context, vendorID, stateJSON, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO wizard_states(vendor_id, state_json, updated_at) VALUES (?,?,?)
		ON CONFLICT(vendor_id) DO UPDATE SET state_json=excluded.state_json, updated_at=excluded.updated_at`,
		vendorID, stateJSON, updatedAt)
	return err
}

func (r Repo) DeleteWizardState(ctx context.Context, vendorID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM wizard_states WHERE vendor_id=?`, vendorID)
	return err
}

// ListEvents returns events after the cursor id, oldest first.
func (r Repo) ListEvents(ctx context.Context, vendorID string, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, ts, type, COALESCE(vendor_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events WHERE id > ?`
	args := []any{afterID}
	if vendorID != "" {
		query += ` AND vendor_id=?`
		args = append(args, vendorID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.VendorID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns the newest events first, optionally scoped to one
// vendor.
func (r Repo) LatestEvents(ctx context.Context, limit int, vendorID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, ts, type, COALESCE(vendor_id,''), entity_kind, COALESCE(entity_id,''), actor_id, payload_json FROM events`
	args := []any{}
	if vendorID != "" {
		query += ` WHERE vendor_id=?`
		args = append(args, vendorID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.VendorID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
