package wizard

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"stallfront/internal/config"
	"stallfront/internal/domain"
)

// Result is the outcome of validating one stage. Validation is pure: it
// returns field-level errors and never fails with an exception-style error.
type Result struct {
	Valid       bool              `json:"valid"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

var (
	phoneChars    = regexp.MustCompile(`^[0-9+\-() ]+$`)
	accountDigits = regexp.MustCompile(`^[0-9]+$`)
)

// Validate checks one stage's form values against the marketplace rules.
// The caller gates forward navigation on Result.Valid.
func Validate(data StageData, rules config.OnboardingRules) Result {
	errs := map[string]string{}
	switch data.Stage() {
	case domain.StageBasics:
		validateBasics(*data.Basics, rules, errs)
	case domain.StageDetails:
		validateDetails(*data.Details, rules, errs)
	case domain.StageSocial:
		// Social links are optional and their format is not validated.
	case domain.StagePayout:
		validatePayout(*data.Payout, errs)
	default:
		errs["form"] = "exactly one stage payload required"
	}
	if len(errs) > 0 {
		return Result{Valid: false, FieldErrors: errs}
	}
	return Result{Valid: true}
}

func validateBasics(b domain.BasicsStage, rules config.OnboardingRules, errs map[string]string) {
	if utf8.RuneCountInString(strings.TrimSpace(b.StoreName)) < rules.StoreNameMin {
		errs["store_name"] = minLengthMessage("store name", rules.StoreNameMin)
	}
	if utf8.RuneCountInString(strings.TrimSpace(b.OwnerName)) < rules.OwnerNameMin {
		errs["owner_name"] = minLengthMessage("owner name", rules.OwnerNameMin)
	}
	if phone := strings.TrimSpace(b.Phone); phone != "" {
		n := utf8.RuneCountInString(phone)
		if n < rules.PhoneMin || n > rules.PhoneMax || !phoneChars.MatchString(phone) {
			errs["phone"] = fmt.Sprintf("phone must be %d-%d characters of digits, +, -, parentheses or spaces", rules.PhoneMin, rules.PhoneMax)
		}
	}
}

func validateDetails(d domain.DetailsStage, rules config.OnboardingRules, errs map[string]string) {
	n := utf8.RuneCountInString(strings.TrimSpace(d.Bio))
	if n < rules.BioMin {
		errs["bio"] = minLengthMessage("bio", rules.BioMin)
	} else if n > rules.BioMax {
		errs["bio"] = maxLengthMessage("bio", rules.BioMax)
	}
}

func validatePayout(p domain.PayoutStage, errs map[string]string) {
	if strings.TrimSpace(p.BankCode) == "" {
		errs["bank_code"] = "bank code is required"
	}
	if acct := strings.TrimSpace(p.AccountNumber); acct == "" {
		errs["account_number"] = "account number is required"
	} else if !accountDigits.MatchString(acct) {
		errs["account_number"] = "account number must contain digits only"
	}
	if strings.TrimSpace(p.AccountName) == "" {
		errs["account_name"] = "resolved account name is required"
	}
}

func minLengthMessage(field string, n int) string {
	return fmt.Sprintf("%s must be at least %d characters", field, n)
}

func maxLengthMessage(field string, n int) string {
	return fmt.Sprintf("%s must be at most %d characters", field, n)
}
