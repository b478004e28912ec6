package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stallfront/internal/domain"
)

// Step names the saga's side-effecting operations in execution order.
type Step string

const (
	StepUploadAsset     Step = "UPLOAD_ASSET"
	StepCreateRecipient Step = "CREATE_PAYMENT_RECIPIENT"
	StepCreateProfile   Step = "CREATE_PROFILE"
)

// ledger records which external operations have committed during one
// submission attempt. Entries are set only after the corresponding call
// returns success; rollback walks it in strict reverse order. It lives for a
// single Execute call and is never shared.
type ledger struct {
	uploadedAsset      *Asset
	paymentRecipientID string
	profileCreated     bool
}

// CompensationResult reports one rollback action taken (or found impossible)
// for a committed step.
type CompensationResult struct {
	Step   Step   `json:"step"`
	Action string `json:"action"`
	Err    error  `json:"-"`
}

// OnboardingError wraps the step failure that aborted a submission together
// with the outcome of each compensating action. Compensation failures never
// mask the original cause.
type OnboardingError struct {
	FailedStep    Step
	Cause         error
	Compensations []CompensationResult
}

func (e *OnboardingError) Error() string {
	return fmt.Sprintf("onboarding failed at %s: %v", e.FailedStep, e.Cause)
}

func (e *OnboardingError) Unwrap() error { return e.Cause }

// Orchestrator runs the onboarding saga. Steps execute sequentially — each
// depends on output of the previous — and no step is retried automatically:
// the processor's create is not idempotent, so a retry inside a step could
// duplicate a paid resource. Callers retry by re-running the whole sequence;
// the profile store's duplicate guard keeps that safe.
type Orchestrator struct {
	Assets   AssetStore
	Payments PaymentsProcessor
	Profiles ProfileStore
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Execute runs the saga for one submission. It returns either a complete
// VendorProfile or a *OnboardingError; there is no partial success. Once
// started it runs to completion — success or rolled-back failure — since an
// abort mid-flight would leave external side effects unmanaged.
func (o Orchestrator) Execute(ctx context.Context, sub Submission) (domain.VendorProfile, error) {
	led := &ledger{}
	log := o.logger().With("vendor_id", sub.VendorID)

	if len(sub.Basics.LogoData) > 0 {
		asset, err := o.Assets.Upload(ctx, sub.Basics.LogoFilename, sub.Basics.LogoData)
		if err != nil {
			return domain.VendorProfile{}, o.rollback(ctx, log, led, StepUploadAsset, err)
		}
		led.uploadedAsset = &asset
		log.Info("onboarding asset uploaded", "asset_id", asset.ID)
	}

	recipientID, err := o.Payments.CreateRecipient(ctx, RecipientDetails{
		Name:          sub.Payout.AccountName,
		BankCode:      sub.Payout.BankCode,
		AccountNumber: sub.Payout.AccountNumber,
		Currency:      o.Currency,
	})
	if err != nil {
		return domain.VendorProfile{}, o.rollback(ctx, log, led, StepCreateRecipient, err)
	}
	led.paymentRecipientID = recipientID
	log.Info("payment recipient created", "recipient_id", recipientID)

	profile := o.buildProfile(sub, led)
	created, err := o.Profiles.Create(ctx, profile)
	if err != nil {
		return domain.VendorProfile{}, o.rollback(ctx, log, led, StepCreateProfile, err)
	}
	led.profileCreated = true
	log.Info("vendor profile created", "store_name", created.StoreName)

	return created, nil
}

func (o Orchestrator) buildProfile(sub Submission, led *ledger) domain.VendorProfile {
	p := domain.VendorProfile{
		VendorID:  sub.VendorID,
		StoreName: sub.Basics.StoreName,
		OwnerName: sub.Basics.OwnerName,
		Phone:     sub.Basics.Phone,
		Location:  sub.Basics.Location,
		Bio:       sub.Details.Bio,
		Category:  sub.Details.Category,
		Social: domain.SocialLinks{
			Instagram: sub.Social.Instagram,
			Twitter:   sub.Social.Twitter,
			Website:   sub.Social.Website,
		},
		PayoutRecipientID:  led.paymentRecipientID,
		BankCode:           sub.Payout.BankCode,
		AccountName:        sub.Payout.AccountName,
		VerificationStatus: domain.VerificationPending,
		CreatedAt:          o.now().UTC().Format(time.RFC3339),
	}
	if led.uploadedAsset != nil {
		p.LogoURL = led.uploadedAsset.URL
		p.LogoAssetID = led.uploadedAsset.ID
	}
	return p
}

// rollback walks the ledger in reverse and compensates each committed step,
// then wraps the original failure. Compensations are best-effort: their own
// failures are logged and recorded but never override the cause.
func (o Orchestrator) rollback(ctx context.Context, log *slog.Logger, led *ledger, failed Step, cause error) error {
	log.Error("onboarding step failed, rolling back", "step", string(failed), "error", cause)
	var results []CompensationResult

	// Profile creation is terminal once committed: there is no later step
	// today, so a committed profile never needs unwinding.

	if led.paymentRecipientID != "" {
		// The processor manages recipients and exposes no delete. The
		// orphaned resource is flagged for manual reconciliation.
		log.Warn("payment recipient has no compensating delete; manual cleanup required",
			"recipient_id", led.paymentRecipientID)
		results = append(results, CompensationResult{
			Step:   StepCreateRecipient,
			Action: fmt.Sprintf("recipient %s left for manual cleanup", led.paymentRecipientID),
		})
	}

	if led.uploadedAsset != nil {
		res := CompensationResult{Step: StepUploadAsset}
		if err := o.Assets.Delete(ctx, led.uploadedAsset.ID); err != nil {
			res.Action = fmt.Sprintf("delete asset %s failed", led.uploadedAsset.ID)
			res.Err = err
			log.Warn("asset compensation failed", "asset_id", led.uploadedAsset.ID, "error", err)
		} else {
			res.Action = fmt.Sprintf("asset %s deleted", led.uploadedAsset.ID)
		}
		results = append(results, res)
	}

	return &OnboardingError{FailedStep: failed, Cause: cause, Compensations: results}
}
