// Package engine wires the onboarding wizard, the saga orchestrator and the
// vendor profile store behind one façade used by both the CLI and the HTTP
// server.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stallfront/internal/assets"
	"stallfront/internal/config"
	"stallfront/internal/domain"
	"stallfront/internal/events"
	"stallfront/internal/onboarding"
	"stallfront/internal/payments"
	"stallfront/internal/profile"
	"stallfront/internal/repo"
	"stallfront/internal/wizard"
)

// ErrSubmissionInFlight guards against duplicate submission while the saga
// runs; at most one orchestration per vendor session.
var ErrSubmissionInFlight = errors.New("submission already in progress")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Wizard wizard.Store
	Saga   onboarding.Orchestrator
	Cache  *profile.Cache
	Logger *slog.Logger
	Now    func() time.Time
}

// New builds an engine with live HTTP adapters taken from config. Tests swap
// the Saga's adapter fields or the Wizard store directly.
func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	w := events.Writer{DB: db}
	logger := slog.Default()
	e := Engine{
		DB:     db,
		Repo:   r,
		Events: w,
		Config: cfg,
		Cache:  profile.NewCache(cfg.ProfileTTL()),
		Logger: logger,
		Now:    time.Now,
	}
	e.Wizard = wizard.NewFallbackStore(wizard.SQLStore{Repo: r}, logger)
	e.Saga = onboarding.Orchestrator{
		Assets:   assets.New(cfg.Assets.BaseURL, cfg.Assets.APIKey),
		Payments: payments.New(cfg.Payments.BaseURL, cfg.Payments.SecretKey),
		Profiles: profile.Store{DB: db, Repo: r, Events: w},
		Currency: cfg.Marketplace.Currency,
		Logger:   logger,
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// GetWizard loads the persisted onboarding progress for a vendor, returning
// the empty first-stage state when nothing is stored.
func (e Engine) GetWizard(ctx context.Context, vendorID string) (domain.WizardState, error) {
	if vendorID == "" {
		return domain.WizardState{}, errors.New("vendor id required")
	}
	return e.Wizard.Load(ctx, vendorID)
}

// SaveStage validates one stage's form values and, when valid, merges them
// into the wizard state, advances to the next stage and persists before
// returning. Invalid input leaves state untouched and reports field errors.
func (e Engine) SaveStage(ctx context.Context, vendorID string, data wizard.StageData) (domain.WizardState, wizard.Result, error) {
	state, err := e.Wizard.Load(ctx, vendorID)
	if err != nil {
		return state, wizard.Result{}, err
	}
	if state.IsSubmitting {
		return state, wizard.Result{}, ErrSubmissionInFlight
	}
	res := wizard.Validate(data, e.Config.Rules())
	if !res.Valid {
		return state, res, nil
	}
	if err := wizard.Apply(&state, data); err != nil {
		return state, res, err
	}
	if err := e.Wizard.Save(ctx, vendorID, state); err != nil {
		return state, res, err
	}
	_ = e.Events.AppendDB(ctx, "onboarding.stage.saved", vendorID, "wizard", vendorID, vendorID, events.EventPayload{
		"stage":      domain.StageName(data.Stage()),
		"next_stage": state.CurrentStage,
	})
	return state, res, nil
}

// StepBack moves the wizard one stage backward without losing any data.
func (e Engine) StepBack(ctx context.Context, vendorID string) (domain.WizardState, error) {
	state, err := e.Wizard.Load(ctx, vendorID)
	if err != nil {
		return state, err
	}
	if state.IsSubmitting {
		return state, ErrSubmissionInFlight
	}
	wizard.Back(&state)
	if err := e.Wizard.Save(ctx, vendorID, state); err != nil {
		return state, err
	}
	return state, nil
}

// AbandonOnboarding clears the persisted wizard state entirely.
func (e Engine) AbandonOnboarding(ctx context.Context, vendorID string) error {
	if err := e.Wizard.Clear(ctx, vendorID); err != nil {
		return err
	}
	return e.Events.AppendDB(ctx, "onboarding.abandoned", vendorID, "wizard", vendorID, vendorID, nil)
}

// SubmitOnboarding runs the saga for the vendor's completed wizard. On
// success the wizard state is cleared and the fresh profile seeds the cache
// for the given route. On failure the wizard stays on the payout stage with
// the error recorded and submission re-enabled; a retry re-runs the whole
// sequence.
func (e Engine) SubmitOnboarding(ctx context.Context, vendorID, route string) (domain.VendorProfile, error) {
	state, err := e.Wizard.Load(ctx, vendorID)
	if err != nil {
		return domain.VendorProfile{}, err
	}
	if state.IsSubmitting {
		return domain.VendorProfile{}, ErrSubmissionInFlight
	}
	if err := wizard.ReadyToSubmit(state); err != nil {
		return domain.VendorProfile{}, err
	}
	if res := wizard.Validate(wizard.StageData{Payout: state.Stages.Payout}, e.Config.Rules()); !res.Valid {
		return domain.VendorProfile{}, fmt.Errorf("payout stage invalid: %v", res.FieldErrors)
	}

	state.IsSubmitting = true
	state.SubmissionError = ""
	if err := e.Wizard.Save(ctx, vendorID, state); err != nil {
		return domain.VendorProfile{}, err
	}
	_ = e.Events.AppendDB(ctx, "onboarding.submitted", vendorID, "wizard", vendorID, vendorID, nil)

	sub := onboarding.Submission{
		VendorID: vendorID,
		Basics:   *state.Stages.Basics,
		Details:  *state.Stages.Details,
		Payout:   *state.Stages.Payout,
	}
	if state.Stages.Social != nil {
		sub.Social = *state.Stages.Social
	}

	created, sagaErr := e.Saga.Execute(ctx, sub)

	// The cache entry, fresh or stale, is dropped whichever way the saga went.
	e.Cache.Invalidate(vendorID)

	if sagaErr != nil {
		state.IsSubmitting = false
		state.SubmissionError = sagaErr.Error()
		if saveErr := e.Wizard.Save(ctx, vendorID, state); saveErr != nil {
			e.Logger.Warn("persisting submission error failed", "vendor_id", vendorID, "error", saveErr)
		}
		payload := events.EventPayload{"error": sagaErr.Error()}
		var oerr *onboarding.OnboardingError
		if errors.As(sagaErr, &oerr) {
			payload["failed_step"] = string(oerr.FailedStep)
		}
		_ = e.Events.AppendDB(ctx, "onboarding.failed", vendorID, "wizard", vendorID, vendorID, payload)
		return domain.VendorProfile{}, sagaErr
	}

	if err := e.Wizard.Clear(ctx, vendorID); err != nil {
		e.Logger.Warn("clearing wizard state after success failed", "vendor_id", vendorID, "error", err)
	}
	e.Cache.Put(vendorID, created, route)
	_ = e.Events.AppendDB(ctx, "onboarding.completed", vendorID, "vendor", vendorID, vendorID, events.EventPayload{
		"recipient_id": created.PayoutRecipientID,
	})
	return created, nil
}

// GetVendor reads a profile through the route-scoped cache.
func (e Engine) GetVendor(ctx context.Context, vendorID, route string) (domain.VendorProfile, error) {
	if p, ok := e.Cache.Get(vendorID, route); ok {
		return p, nil
	}
	p, err := e.Repo.GetVendorProfile(ctx, vendorID)
	if err != nil {
		return domain.VendorProfile{}, err
	}
	e.Cache.Put(vendorID, p, route)
	return p, nil
}

func (e Engine) ListVendors(ctx context.Context) ([]domain.VendorProfile, error) {
	return e.Repo.ListVendorProfiles(ctx)
}

// ResolveBankAccount proxies the processor's read-only account lookup used
// for inline payout validation.
func (e Engine) ResolveBankAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	if bankCode == "" || accountNumber == "" {
		return "", errors.New("bank_code and account_number required")
	}
	return e.Saga.Payments.ResolveAccount(ctx, bankCode, accountNumber)
}

// CreateAPIKey mints a machine credential for a vendor and stores its hash.
// The plaintext key is returned once and never persisted.
func (e Engine) CreateAPIKey(ctx context.Context, vendorID, name string) (domain.APIKey, string, error) {
	if vendorID == "" {
		return domain.APIKey{}, "", errors.New("vendor id required")
	}
	secret := "sfk_" + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		VendorID:  vendorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}
