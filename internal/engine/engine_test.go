package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"stallfront/internal/config"
	"stallfront/internal/db"
	"stallfront/internal/domain"
	"stallfront/internal/events"
	"stallfront/internal/migrate"
	"stallfront/internal/onboarding"
	"stallfront/internal/profile"
	"stallfront/internal/repo"
	"stallfront/internal/wizard"
)

type fakeAssets struct {
	uploads int
	deleted []string
}

func (f *fakeAssets) Upload(_ context.Context, filename string, _ []byte) (onboarding.Asset, error) {
	f.uploads++
	id := fmt.Sprintf("asset-%d", f.uploads)
	return onboarding.Asset{ID: id, URL: "https://cdn.test/" + id + "/" + filename}, nil
}

func (f *fakeAssets) Delete(_ context.Context, assetID string) error {
	f.deleted = append(f.deleted, assetID)
	return nil
}

type fakePayments struct {
	recipientErr error
	created      int
}

func (f *fakePayments) ResolveAccount(_ context.Context, _, _ string) (string, error) {
	return "Jane Doe", nil
}

func (f *fakePayments) CreateRecipient(_ context.Context, _ onboarding.RecipientDetails) (string, error) {
	if f.recipientErr != nil {
		return "", f.recipientErr
	}
	f.created++
	return fmt.Sprintf("RCP_%03d", f.created), nil
}

type testEnv struct {
	engine   Engine
	assets   *fakeAssets
	payments *fakePayments
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Default("mkt-test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := repo.Repo{DB: conn}
	w := events.Writer{DB: conn}
	fa := &fakeAssets{}
	fp := &fakePayments{}

	e := Engine{
		DB:     conn,
		Repo:   r,
		Events: w,
		Config: cfg,
		Wizard: wizard.NewFallbackStore(wizard.SQLStore{Repo: r}, logger),
		Cache:  profile.NewCache(cfg.ProfileTTL()),
		Logger: logger,
		Now:    time.Now,
		Saga: onboarding.Orchestrator{
			Assets:   fa,
			Payments: fp,
			Profiles: profile.Store{DB: conn, Repo: r, Events: w},
			Currency: cfg.Marketplace.Currency,
			Logger:   logger,
		},
	}
	return &testEnv{engine: e, assets: fa, payments: fp}
}

func fillWizard(t *testing.T, e Engine, vendorID string) {
	t.Helper()
	ctx := context.Background()
	steps := []wizard.StageData{
		{Basics: &domain.BasicsStage{StoreName: "Acme", OwnerName: "Jane Doe", Phone: "+2348012345678"}},
		{Details: &domain.DetailsStage{Bio: "Handmade ceramics from Lagos", Category: "crafts"}},
		{Social: &domain.SocialStage{}},
		{Payout: &domain.PayoutStage{BankCode: "058", AccountNumber: "0123456789", AccountName: "Jane Doe"}},
	}
	for _, data := range steps {
		_, res, err := e.SaveStage(ctx, vendorID, data)
		if err != nil {
			t.Fatalf("save stage %d: %v", data.Stage(), err)
		}
		if !res.Valid {
			t.Fatalf("stage %d invalid: %v", data.Stage(), res.FieldErrors)
		}
	}
}

func TestSaveStagePersistsAndResumes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state, res, err := env.engine.SaveStage(ctx, "vnd-1", wizard.StageData{
		Basics: &domain.BasicsStage{StoreName: "Acme", OwnerName: "Jane Doe"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || state.CurrentStage != domain.StageDetails {
		t.Fatalf("expected advance to details, got stage %d valid=%v", state.CurrentStage, res.Valid)
	}

	// A fresh load simulates the vendor returning later: same position, same
	// data.
	resumed, err := env.engine.GetWizard(ctx, "vnd-1")
	if err != nil {
		t.Fatal(err)
	}
	if resumed.CurrentStage != domain.StageDetails || resumed.Stages.Basics == nil {
		t.Fatalf("resume lost progress: %+v", resumed)
	}
}

func TestSaveStageValidationBlocksAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state, res, err := env.engine.SaveStage(ctx, "vnd-1", wizard.StageData{
		Basics: &domain.BasicsStage{StoreName: "A", OwnerName: "Jane Doe"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("expected validation failure")
	}
	if state.CurrentStage != domain.StageBasics {
		t.Fatalf("invalid input must not advance, got stage %d", state.CurrentStage)
	}
	reloaded, err := env.engine.GetWizard(ctx, "vnd-1")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Stages.Basics != nil {
		t.Fatal("invalid input must not be persisted")
	}
}

func TestStepBackKeepsData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillWizard(t, env.engine, "vnd-1")

	state, err := env.engine.StepBack(ctx, "vnd-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentStage != domain.StageSocial {
		t.Fatalf("expected stage %d after back, got %d", domain.StageSocial, state.CurrentStage)
	}
	if state.Stages.Payout == nil {
		t.Fatal("back navigation must not drop stage data")
	}
}

func TestSubmitSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillWizard(t, env.engine, "vnd-1")

	created, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created.VerificationStatus != domain.VerificationPending {
		t.Fatalf("new profile must be pending, got %q", created.VerificationStatus)
	}
	if created.PayoutRecipientID != "RCP_001" {
		t.Fatalf("unexpected recipient id %q", created.PayoutRecipientID)
	}

	// The wizard resets so a returning vendor starts clean.
	state, err := env.engine.GetWizard(ctx, "vnd-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentStage != domain.StageBasics || state.Stages.Basics != nil {
		t.Fatalf("wizard not cleared after success: %+v", state)
	}

	// The profile is durably readable and cache-served on the submit route.
	got, err := env.engine.GetVendor(ctx, "vnd-1", "/onboarding")
	if err != nil {
		t.Fatal(err)
	}
	if got.StoreName != "Acme" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestSubmitRejectsIncompleteWizard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, _, err := env.engine.SaveStage(ctx, "vnd-1", wizard.StageData{
		Basics: &domain.BasicsStage{StoreName: "Acme", OwnerName: "Jane Doe"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding"); err == nil {
		t.Fatal("expected incomplete wizard to be rejected")
	}
}

func TestSubmitFailureKeepsWizardAndAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillWizard(t, env.engine, "vnd-1")

	env.payments.recipientErr = errors.New("processor unavailable")
	_, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding")
	var oerr *onboarding.OnboardingError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *OnboardingError, got %v", err)
	}
	if oerr.FailedStep != onboarding.StepCreateRecipient {
		t.Fatalf("unexpected failed step %s", oerr.FailedStep)
	}

	state, err := env.engine.GetWizard(ctx, "vnd-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.IsSubmitting {
		t.Fatal("failed submission must re-enable submit")
	}
	if state.SubmissionError == "" {
		t.Fatal("failure must be recorded on the wizard state")
	}
	if state.Stages.Payout == nil {
		t.Fatal("failure must not lose the entered data")
	}

	// Retry re-runs the whole sequence once the processor recovers.
	env.payments.recipientErr = nil
	created, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if created.PayoutRecipientID != "RCP_001" {
		t.Fatalf("unexpected recipient id %q", created.PayoutRecipientID)
	}
}

func TestSubmitDuplicateProfileIsDistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillWizard(t, env.engine, "vnd-1")
	if _, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding"); err != nil {
		t.Fatal(err)
	}

	fillWizard(t, env.engine, "vnd-1")
	_, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding")
	if !errors.Is(err, profile.ErrExists) {
		t.Fatalf("expected duplicate-profile error, got %v", err)
	}
}

func TestGetVendorRouteScopedCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillWizard(t, env.engine, "vnd-1")
	if _, err := env.engine.SubmitOnboarding(ctx, "vnd-1", "/onboarding"); err != nil {
		t.Fatal(err)
	}

	// Reads from another route miss the cache but still hit the repo.
	if _, ok := env.engine.Cache.Get("vnd-1", "/dashboard"); ok {
		t.Fatal("expected cache miss for a different route")
	}
	got, err := env.engine.GetVendor(ctx, "vnd-1", "/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if got.VendorID != "vnd-1" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, secret, err := env.engine.CreateAPIKey(ctx, "vnd-1", "ci")
	if err != nil {
		t.Fatal(err)
	}
	if secret == "" || key.KeyHash == repo.HashAPIKey("") {
		t.Fatal("expected a usable secret and its hash")
	}
	got, err := env.engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
	if err != nil {
		t.Fatal(err)
	}
	if got.VendorID != "vnd-1" {
		t.Fatalf("unexpected key record: %+v", got)
	}
}
