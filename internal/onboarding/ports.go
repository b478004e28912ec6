// Package onboarding orchestrates the final submission of the vendor
// onboarding wizard: a linear saga across the asset host, the payments
// processor and the profile store, with a side-effect ledger driving
// compensation in reverse order on failure.
package onboarding

import (
	"context"

	"stallfront/internal/domain"
)

// Asset is the stored result of an upload: a stable identifier usable for
// deletion and a URL embeddable in the profile record.
type Asset struct {
	ID  string
	URL string
}

// AssetStore uploads and deletes hosted files. Delete must be idempotent:
// deleting an asset that no longer exists is not an error.
type AssetStore interface {
	Upload(ctx context.Context, filename string, content []byte) (Asset, error)
	Delete(ctx context.Context, assetID string) error
}

// RecipientDetails identifies the bank account a payout recipient is
// created for.
type RecipientDetails struct {
	Name          string
	BankCode      string
	AccountNumber string
	Currency      string
}

// PaymentsProcessor talks to the payout provider. ResolveAccount is a
// read-only lookup used for inline payout validation before submission;
// CreateRecipient is the saga step. The processor exposes no recipient
// delete, which is why a recipient cannot be compensated.
type PaymentsProcessor interface {
	ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error)
	CreateRecipient(ctx context.Context, details RecipientDetails) (string, error)
}

// ProfileStore writes the durable vendor profile. Create must fail with a
// distinguishable error when a profile for the vendor already exists.
type ProfileStore interface {
	Create(ctx context.Context, profile domain.VendorProfile) (domain.VendorProfile, error)
}

// Submission is the full onboarding payload assembled from the wizard stages.
type Submission struct {
	VendorID string
	Basics   domain.BasicsStage
	Details  domain.DetailsStage
	Social   domain.SocialStage
	Payout   domain.PayoutStage
}
