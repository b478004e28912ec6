// Package profile owns the durable vendor profile: the datastore write the
// onboarding saga commits last, and the short-lived route-scoped cache that
// post-onboarding reads go through.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stallfront/internal/domain"
	"stallfront/internal/events"
	"stallfront/internal/repo"
)

// ErrExists re-exports the duplicate-create guard so saga callers can detect
// an idempotent-retry rejection without importing the repo layer.
var ErrExists = repo.ErrVendorExists

// Store implements onboarding.ProfileStore against the primary datastore.
type Store struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
}

// Create writes the profile and its creation event in one transaction. A
// second create for the same vendor fails with ErrExists; the profile is
// never overwritten.
func (s Store) Create(ctx context.Context, p domain.VendorProfile) (domain.VendorProfile, error) {
	if p.VendorID == "" {
		return domain.VendorProfile{}, errors.New("vendor id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.VendorProfile{}, err
	}
	defer tx.Rollback()

	if err := s.Repo.InsertVendorProfileTx(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrVendorExists) {
			return domain.VendorProfile{}, fmt.Errorf("vendor %s: %w", p.VendorID, ErrExists)
		}
		return domain.VendorProfile{}, fmt.Errorf("insert vendor profile: %w", err)
	}
	if err := s.Events.Append(ctx, tx, "vendor.profile.created", p.VendorID, "vendor", p.VendorID, p.VendorID, events.EventPayload{
		"store_name":          p.StoreName,
		"verification_status": p.VerificationStatus,
	}); err != nil {
		return domain.VendorProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.VendorProfile{}, err
	}
	return p, nil
}
