package domain

// VerificationStatus values for a vendor profile.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

type VendorProfile struct {
	VendorID           string      `json:"vendor_id"`
	StoreName          string      `json:"store_name"`
	OwnerName          string      `json:"owner_name"`
	Phone              string      `json:"phone,omitempty"`
	Location           string      `json:"location,omitempty"`
	Bio                string      `json:"bio"`
	Category           string      `json:"category,omitempty"`
	Social             SocialLinks `json:"social"`
	LogoURL            string      `json:"logo_url,omitempty"`
	LogoAssetID        string      `json:"logo_asset_id,omitempty"`
	PayoutRecipientID  string      `json:"payout_recipient_id"`
	BankCode           string      `json:"bank_code"`
	AccountName        string      `json:"account_name"`
	VerificationStatus string      `json:"verification_status" enum:"pending,verified,rejected"`
	CreatedAt          string      `json:"created_at" format:"date-time"`
}

type SocialLinks struct {
	Instagram string `json:"instagram,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Website   string `json:"website,omitempty"`
}

// Wizard stage numbers. The wizard is linear: basics -> details -> social -> payout.
const (
	StageBasics  = 1
	StageDetails = 2
	StageSocial  = 3
	StagePayout  = 4
	StageCount   = 4
)

// StageName returns the short identifier used in API paths and events.
func StageName(stage int) string {
	switch stage {
	case StageBasics:
		return "basics"
	case StageDetails:
		return "details"
	case StageSocial:
		return "social"
	case StagePayout:
		return "payout"
	default:
		return ""
	}
}

// StageNumber is the inverse of StageName; 0 means unknown.
func StageNumber(name string) int {
	switch name {
	case "basics":
		return StageBasics
	case "details":
		return StageDetails
	case "social":
		return StageSocial
	case "payout":
		return StagePayout
	default:
		return 0
	}
}

type BasicsStage struct {
	StoreName    string `json:"store_name"`
	OwnerName    string `json:"owner_name"`
	Phone        string `json:"phone,omitempty"`
	Location     string `json:"location,omitempty"`
	LogoFilename string `json:"logo_filename,omitempty"`
	LogoData     []byte `json:"logo_data,omitempty"`
}

type DetailsStage struct {
	Bio      string `json:"bio"`
	Category string `json:"category,omitempty"`
}

type SocialStage struct {
	Instagram string `json:"instagram,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Website   string `json:"website,omitempty"`
}

type PayoutStage struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// WizardStages holds the per-stage form data. Unset stages are nil, never
// placeholder values.
type WizardStages struct {
	Basics  *BasicsStage  `json:"basics,omitempty"`
	Details *DetailsStage `json:"details,omitempty"`
	Social  *SocialStage  `json:"social,omitempty"`
	Payout  *PayoutStage  `json:"payout,omitempty"`
}

// WizardState is the single source of truth for onboarding progress. It is
// persisted after every mutation so a crash or reload loses at most the
// in-flight keystroke.
type WizardState struct {
	CurrentStage    int          `json:"current_stage"`
	Stages          WizardStages `json:"stages"`
	SubmissionError string       `json:"submission_error,omitempty"`
	IsSubmitting    bool         `json:"is_submitting"`
	UpdatedAt       string       `json:"updated_at,omitempty" format:"date-time"`
}

// EmptyWizardState is the state of a vendor who has just entered onboarding.
func EmptyWizardState() WizardState {
	return WizardState{CurrentStage: StageBasics}
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	VendorID   string `json:"vendor_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	VendorID  string `json:"vendor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
