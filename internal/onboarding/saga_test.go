package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stallfront/internal/domain"
)

type fakeAssets struct {
	uploadErr error
	deleteErr error
	uploads   int
	deleted   []string
}

func (f *fakeAssets) Upload(_ context.Context, filename string, content []byte) (Asset, error) {
	f.uploads++
	if f.uploadErr != nil {
		return Asset{}, f.uploadErr
	}
	return Asset{ID: "asset-1", URL: "https://assets.test/asset-1/" + filename}, nil
}

func (f *fakeAssets) Delete(_ context.Context, assetID string) error {
	f.deleted = append(f.deleted, assetID)
	return f.deleteErr
}

type fakePayments struct {
	createErr  error
	recipients int
}

func (f *fakePayments) ResolveAccount(context.Context, string, string) (string, error) {
	return "JANE DOE", nil
}

func (f *fakePayments) CreateRecipient(context.Context, RecipientDetails) (string, error) {
	f.recipients++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "RCP_001", nil
}

type fakeProfiles struct {
	createErr error
	created   []domain.VendorProfile
}

func (f *fakeProfiles) Create(_ context.Context, p domain.VendorProfile) (domain.VendorProfile, error) {
	if f.createErr != nil {
		return domain.VendorProfile{}, f.createErr
	}
	f.created = append(f.created, p)
	return p, nil
}

func testSubmission(withLogo bool) Submission {
	sub := Submission{
		VendorID: "vnd-1",
		Basics:   domain.BasicsStage{StoreName: "Acme", OwnerName: "Jane Doe"},
		Details:  domain.DetailsStage{Bio: "Handmade goods and more."},
		Payout:   domain.PayoutStage{BankCode: "058", AccountNumber: "0123456789", AccountName: "JANE DOE"},
	}
	if withLogo {
		sub.Basics.LogoFilename = "logo.png"
		sub.Basics.LogoData = []byte{0x89, 0x50, 0x4e, 0x47}
	}
	return sub
}

func newOrchestrator(a *fakeAssets, p *fakePayments, s *fakeProfiles) Orchestrator {
	return Orchestrator{Assets: a, Payments: p, Profiles: s, Currency: "NGN"}
}

func TestExecuteSuccess(t *testing.T) {
	assets := &fakeAssets{}
	payments := &fakePayments{}
	profiles := &fakeProfiles{}
	o := newOrchestrator(assets, payments, profiles)

	profile, err := o.Execute(context.Background(), testSubmission(true))
	require.NoError(t, err)

	assert.Equal(t, "vnd-1", profile.VendorID)
	assert.Equal(t, domain.VerificationPending, profile.VerificationStatus)
	assert.Equal(t, "RCP_001", profile.PayoutRecipientID)
	assert.Equal(t, "asset-1", profile.LogoAssetID)
	assert.NotEmpty(t, profile.LogoURL)
	assert.Equal(t, 1, assets.uploads)
	assert.Equal(t, 1, payments.recipients)
	require.Len(t, profiles.created, 1)
	assert.Empty(t, assets.deleted)
}

func TestExecuteSkipsUploadWithoutLogo(t *testing.T) {
	assets := &fakeAssets{}
	o := newOrchestrator(assets, &fakePayments{}, &fakeProfiles{})

	profile, err := o.Execute(context.Background(), testSubmission(false))
	require.NoError(t, err)
	assert.Zero(t, assets.uploads)
	assert.Empty(t, profile.LogoURL)
	assert.Empty(t, profile.LogoAssetID)
}

func TestExecuteProfileFailureRollsBack(t *testing.T) {
	assets := &fakeAssets{}
	payments := &fakePayments{}
	profiles := &fakeProfiles{createErr: errors.New("datastore down")}
	o := newOrchestrator(assets, payments, profiles)

	_, err := o.Execute(context.Background(), testSubmission(true))
	require.Error(t, err)

	var oerr *OnboardingError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, StepCreateProfile, oerr.FailedStep)
	assert.ErrorContains(t, oerr.Cause, "datastore down")

	// The asset is the only compensable step and is deleted exactly once.
	assert.Equal(t, []string{"asset-1"}, assets.deleted)

	// The recipient is orphaned and surfaced as a manual-cleanup condition.
	require.Len(t, oerr.Compensations, 2)
	assert.Equal(t, StepCreateRecipient, oerr.Compensations[0].Step)
	assert.Contains(t, oerr.Compensations[0].Action, "RCP_001")
	assert.Equal(t, StepUploadAsset, oerr.Compensations[1].Step)
	assert.NoError(t, oerr.Compensations[1].Err)
}

func TestExecuteRecipientFailureDeletesAsset(t *testing.T) {
	assets := &fakeAssets{}
	payments := &fakePayments{createErr: errors.New("processor 502")}
	o := newOrchestrator(assets, payments, &fakeProfiles{})

	_, err := o.Execute(context.Background(), testSubmission(true))
	var oerr *OnboardingError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, StepCreateRecipient, oerr.FailedStep)
	assert.Equal(t, []string{"asset-1"}, assets.deleted)
	require.Len(t, oerr.Compensations, 1)
	assert.Equal(t, StepUploadAsset, oerr.Compensations[0].Step)
}

func TestExecuteUploadFailureHasNoCompensations(t *testing.T) {
	assets := &fakeAssets{uploadErr: errors.New("host unreachable")}
	payments := &fakePayments{}
	o := newOrchestrator(assets, payments, &fakeProfiles{})

	_, err := o.Execute(context.Background(), testSubmission(true))
	var oerr *OnboardingError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, StepUploadAsset, oerr.FailedStep)
	assert.Empty(t, oerr.Compensations)
	assert.Zero(t, payments.recipients)
}

func TestCompensationFailureDoesNotMaskCause(t *testing.T) {
	assets := &fakeAssets{deleteErr: errors.New("delete rejected")}
	profiles := &fakeProfiles{createErr: errors.New("duplicate key")}
	o := newOrchestrator(assets, &fakePayments{}, profiles)

	_, err := o.Execute(context.Background(), testSubmission(true))
	var oerr *OnboardingError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, StepCreateProfile, oerr.FailedStep)
	assert.ErrorContains(t, oerr.Cause, "duplicate key")
	require.Len(t, oerr.Compensations, 2)
	assert.ErrorContains(t, oerr.Compensations[1].Err, "delete rejected")
}

func TestRetryAfterSuccessIsRejectedDistinguishably(t *testing.T) {
	duplicate := errors.New("vendor profile already exists")
	assets := &fakeAssets{}
	payments := &fakePayments{}
	profiles := &fakeProfiles{}
	o := newOrchestrator(assets, payments, profiles)

	_, err := o.Execute(context.Background(), testSubmission(true))
	require.NoError(t, err)

	// A second full run duplicates the asset and recipient (both safe to
	// duplicate) but must be stopped at the guarded profile create.
	profiles.createErr = duplicate
	_, err = o.Execute(context.Background(), testSubmission(true))
	var oerr *OnboardingError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, StepCreateProfile, oerr.FailedStep)
	assert.ErrorIs(t, err, duplicate)
	assert.Equal(t, 2, assets.uploads)
	assert.Equal(t, 2, payments.recipients)
}
