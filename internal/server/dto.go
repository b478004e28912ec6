package server

import (
	"encoding/json"

	"stallfront/internal/domain"
	"stallfront/internal/wizard"
)

// StageFormRequest is the union of all stage form fields. The path decides
// which stage a save targets; only that stage's fields are read.
type StageFormRequest struct {
	// basics
	StoreName    string `json:"store_name,omitempty"`
	OwnerName    string `json:"owner_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Location     string `json:"location,omitempty"`
	LogoFilename string `json:"logo_filename,omitempty"`
	LogoData     []byte `json:"logo_data,omitempty"`
	// details
	Bio      string `json:"bio,omitempty"`
	Category string `json:"category,omitempty"`
	// social
	Instagram string `json:"instagram,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Website   string `json:"website,omitempty"`
	// payout
	BankCode      string `json:"bank_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
}

func stageData(stage int, req StageFormRequest) wizard.StageData {
	switch stage {
	case domain.StageBasics:
		return wizard.StageData{Basics: &domain.BasicsStage{
			StoreName:    req.StoreName,
			OwnerName:    req.OwnerName,
			Phone:        req.Phone,
			Location:     req.Location,
			LogoFilename: req.LogoFilename,
			LogoData:     req.LogoData,
		}}
	case domain.StageDetails:
		return wizard.StageData{Details: &domain.DetailsStage{
			Bio:      req.Bio,
			Category: req.Category,
		}}
	case domain.StageSocial:
		return wizard.StageData{Social: &domain.SocialStage{
			Instagram: req.Instagram,
			Twitter:   req.Twitter,
			Website:   req.Website,
		}}
	case domain.StagePayout:
		return wizard.StageData{Payout: &domain.PayoutStage{
			BankCode:      req.BankCode,
			AccountNumber: req.AccountNumber,
			AccountName:   req.AccountName,
		}}
	}
	return wizard.StageData{}
}

type WizardStateResponse struct {
	CurrentStage    int                 `json:"current_stage"`
	Stage           string              `json:"stage" enum:"basics,details,social,payout"`
	Stages          domain.WizardStages `json:"stages"`
	SubmissionError string              `json:"submission_error,omitempty"`
	IsSubmitting    bool                `json:"is_submitting"`
	UpdatedAt       string              `json:"updated_at,omitempty"`
}

func wizardResponse(state domain.WizardState) WizardStateResponse {
	return WizardStateResponse{
		CurrentStage:    state.CurrentStage,
		Stage:           domain.StageName(state.CurrentStage),
		Stages:          state.Stages,
		SubmissionError: state.SubmissionError,
		IsSubmitting:    state.IsSubmitting,
		UpdatedAt:       state.UpdatedAt,
	}
}

type VendorResponse struct {
	VendorID           string             `json:"vendor_id"`
	StoreName          string             `json:"store_name"`
	OwnerName          string             `json:"owner_name"`
	Phone              string             `json:"phone,omitempty"`
	Location           string             `json:"location,omitempty"`
	Bio                string             `json:"bio"`
	Category           string             `json:"category,omitempty"`
	Social             domain.SocialLinks `json:"social"`
	LogoURL            string             `json:"logo_url,omitempty"`
	PayoutRecipientID  string             `json:"payout_recipient_id"`
	BankCode           string             `json:"bank_code"`
	AccountName        string             `json:"account_name"`
	VerificationStatus string             `json:"verification_status" enum:"pending,verified,rejected"`
	CreatedAt          string             `json:"created_at"`
}

func vendorResponse(p domain.VendorProfile) VendorResponse {
	return VendorResponse{
		VendorID:           p.VendorID,
		StoreName:          p.StoreName,
		OwnerName:          p.OwnerName,
		Phone:              p.Phone,
		Location:           p.Location,
		Bio:                p.Bio,
		Category:           p.Category,
		Social:             p.Social,
		LogoURL:            p.LogoURL,
		PayoutRecipientID:  p.PayoutRecipientID,
		BankCode:           p.BankCode,
		AccountName:        p.AccountName,
		VerificationStatus: p.VerificationStatus,
		CreatedAt:          p.CreatedAt,
	}
}

func mapVendors(items []domain.VendorProfile) []VendorResponse {
	res := make([]VendorResponse, 0, len(items))
	for _, p := range items {
		res = append(res, vendorResponse(p))
	}
	return res
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	VendorID   string          `json:"vendor_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		VendorID:   evt.VendorID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type ResolveAccountResponse struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type DevLoginRequest struct {
	VendorID string `json:"vendor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// APIKeyResponse carries the plaintext key exactly once, at creation.
type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}
