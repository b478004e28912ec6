// Package wizard implements the resumable vendor onboarding wizard: a
// four-stage state machine whose progress is persisted after every mutation,
// per-stage form validation, and the storage port the state survives in.
package wizard

import (
	"errors"
	"fmt"

	"stallfront/internal/domain"
)

var (
	ErrUnknownStage = errors.New("unknown wizard stage")
	// ErrStageNotReachable is returned when a save targets a stage ahead of
	// the vendor's current position. Stages unlock one at a time.
	ErrStageNotReachable = errors.New("stage not reachable yet")
)

// StageData carries the form values for exactly one stage.
type StageData struct {
	Basics  *domain.BasicsStage
	Details *domain.DetailsStage
	Social  *domain.SocialStage
	Payout  *domain.PayoutStage
}

// Stage returns the stage number the data belongs to, or 0 if none or more
// than one stage is set.
func (d StageData) Stage() int {
	stage, count := 0, 0
	if d.Basics != nil {
		stage, count = domain.StageBasics, count+1
	}
	if d.Details != nil {
		stage, count = domain.StageDetails, count+1
	}
	if d.Social != nil {
		stage, count = domain.StageSocial, count+1
	}
	if d.Payout != nil {
		stage, count = domain.StagePayout, count+1
	}
	if count != 1 {
		return 0
	}
	return stage
}

// Apply merges validated stage data into the state and advances the wizard to
// the following stage. The target stage must already be reachable: saving is
// allowed for the current stage or any completed earlier stage, never ahead.
// A successful apply clears any previous submission error.
func Apply(state *domain.WizardState, data StageData) error {
	stage := data.Stage()
	if stage == 0 {
		return ErrUnknownStage
	}
	if state.CurrentStage == 0 {
		state.CurrentStage = domain.StageBasics
	}
	if stage > state.CurrentStage {
		return fmt.Errorf("%w: at %s, cannot save %s", ErrStageNotReachable,
			domain.StageName(state.CurrentStage), domain.StageName(stage))
	}
	switch stage {
	case domain.StageBasics:
		state.Stages.Basics = data.Basics
	case domain.StageDetails:
		state.Stages.Details = data.Details
	case domain.StageSocial:
		state.Stages.Social = data.Social
	case domain.StagePayout:
		state.Stages.Payout = data.Payout
	}
	if stage < domain.StageCount {
		state.CurrentStage = stage + 1
	} else {
		state.CurrentStage = domain.StageCount
	}
	state.SubmissionError = ""
	return nil
}

// Back moves the wizard one stage backward. Navigating back never loses
// stage data and is a no-op on the first stage.
func Back(state *domain.WizardState) {
	if state.CurrentStage > domain.StageBasics {
		state.CurrentStage--
	}
}

// ReadyToSubmit reports whether all stages required for final submission are
// filled in. Social links are optional; the other three stages must exist.
func ReadyToSubmit(state domain.WizardState) error {
	if state.Stages.Basics == nil {
		return fmt.Errorf("stage %s incomplete", domain.StageName(domain.StageBasics))
	}
	if state.Stages.Details == nil {
		return fmt.Errorf("stage %s incomplete", domain.StageName(domain.StageDetails))
	}
	if state.Stages.Payout == nil {
		return fmt.Errorf("stage %s incomplete", domain.StageName(domain.StagePayout))
	}
	return nil
}
