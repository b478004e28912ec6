// Package server exposes the storefront onboarding API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stallfront/internal/domain"
	"stallfront/internal/engine"
	"stallfront/internal/onboarding"
	"stallfront/internal/profile"
	"stallfront/internal/repo"
	"stallfront/internal/wizard"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stage_not_reachable"`
	Message string         `json:"message" example:"at basics, cannot save payout"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stallfront API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request errors are 400 bad_request; 422 is reserved
			// for stage form validation.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Stallfront API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWizard(group, cfg.Engine)
	registerVendors(group, cfg.Engine)
	registerBanks(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, profile.ErrExists) {
		return newAPIError(http.StatusConflict, "vendor_exists", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrSubmissionInFlight) {
		return newAPIError(http.StatusConflict, "submission_in_flight", err.Error(), nil)
	}
	if errors.Is(err, wizard.ErrStageNotReachable) {
		return newAPIError(http.StatusConflict, "stage_not_reachable", err.Error(), nil)
	}
	if errors.Is(err, wizard.ErrUnknownStage) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var oerr *onboarding.OnboardingError
	if errors.As(err, &oerr) {
		return newAPIError(http.StatusBadGateway, "onboarding_failed", err.Error(), onboardingErrorDetails(oerr))
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "incomplete"):
		return newAPIError(http.StatusUnprocessableEntity, "wizard_incomplete", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func onboardingErrorDetails(oerr *onboarding.OnboardingError) map[string]any {
	comps := make([]map[string]any, 0, len(oerr.Compensations))
	for _, c := range oerr.Compensations {
		item := map[string]any{
			"step":   string(c.Step),
			"action": c.Action,
		}
		if c.Err != nil {
			item["error"] = c.Err.Error()
		}
		comps = append(comps, item)
	}
	return map[string]any{
		"failed_step":   string(oerr.FailedStep),
		"cause":         oerr.Cause.Error(),
		"compensations": comps,
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "onboarding_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stallfront API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerWizard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-wizard",
		Method:      http.MethodGet,
		Path:        "/onboarding/wizard",
		Summary:     "Current onboarding wizard state",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WizardStateResponse `json:"body"`
	}, error) {
		vendorID, authErr := vendorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.GetWizard(ctx, vendorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WizardStateResponse `json:"body"`
		}{Body: wizardResponse(state)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-stage",
		Method:      http.MethodPut,
		Path:        "/onboarding/stages/{stage}",
		Summary:     "Save one wizard stage and advance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Stage string           `path:"stage" enum:"basics,details,social,payout"`
		Body  StageFormRequest `json:"body"`
	}) (*struct {
		Body WizardStateResponse `json:"body"`
	}, error) {
		vendorID, authErr := vendorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stage := domain.StageNumber(input.Stage)
		if stage == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown stage "+input.Stage, nil)
		}
		state, res, err := e.SaveStage(ctx, vendorID, stageData(stage, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		if !res.Valid {
			details := make(map[string]any, len(res.FieldErrors))
			for field, msg := range res.FieldErrors {
				details[field] = msg
			}
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed",
				"stage "+input.Stage+" has invalid fields", map[string]any{"field_errors": details})
		}
		return &struct {
			Body WizardStateResponse `json:"body"`
		}{Body: wizardResponse(state)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-back",
		Method:      http.MethodPost,
		Path:        "/onboarding/back",
		Summary:     "Navigate one stage backward",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WizardStateResponse `json:"body"`
	}, error) {
		vendorID, authErr := vendorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.StepBack(ctx, vendorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WizardStateResponse `json:"body"`
		}{Body: wizardResponse(state)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-onboarding",
		Method:        http.MethodPost,
		Path:          "/onboarding/submit",
		Summary:       "Submit the completed wizard",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Route string `header:"X-Route"`
	}) (*struct {
		Body VendorResponse `json:"body"`
	}, error) {
		vendorID, authErr := vendorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		route := input.Route
		if route == "" {
			route = "/onboarding"
		}
		created, err := e.SubmitOnboarding(ctx, vendorID, route)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VendorResponse `json:"body"`
		}{Body: vendorResponse(created)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "abandon-onboarding",
		Method:        http.MethodDelete,
		Path:          "/onboarding",
		Summary:       "Abandon onboarding and discard wizard state",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		vendorID, authErr := vendorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AbandonOnboarding(ctx, vendorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerVendors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-vendors",
		Method:      http.MethodGet,
		Path:        "/vendors",
		Summary:     "List vendor profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []VendorResponse `json:"body"`
	}, error) {
		items, err := e.ListVendors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VendorResponse `json:"body"`
		}{Body: mapVendors(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-vendor",
		Method:      http.MethodGet,
		Path:        "/vendors/{vendor_id}",
		Summary:     "Get a vendor profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		VendorID string `path:"vendor_id"`
		Route    string `header:"X-Route"`
	}) (*struct {
		Body VendorResponse `json:"body"`
	}, error) {
		route := input.Route
		if route == "" {
			route = "/vendors/" + input.VendorID
		}
		p, err := e.GetVendor(ctx, input.VendorID, route)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VendorResponse `json:"body"`
		}{Body: vendorResponse(p)}, nil
	})
}

func registerBanks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve-bank-account",
		Method:      http.MethodGet,
		Path:        "/banks/resolve",
		Summary:     "Resolve a bank account name",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		BankCode      string `query:"bank_code"`
		AccountNumber string `query:"account_number"`
	}) (*struct {
		Body ResolveAccountResponse `json:"body"`
	}, error) {
		name, err := e.ResolveBankAccount(ctx, input.BankCode, input.AccountNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveAccountResponse `json:"body"`
		}{Body: ResolveAccountResponse{
			BankCode:      input.BankCode,
			AccountNumber: input.AccountNumber,
			AccountName:   name,
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		VendorID string `query:"vendor_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.ListEvents(ctx, input.VendorID, cursorID, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create an API key for the authenticated vendor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		vendorID, authErr := vendorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, vendorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			Key:       secret,
			CreatedAt: key.CreatedAt,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		vendorID := strings.TrimSpace(input.Body.VendorID)
		if vendorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "vendor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, vendorID)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
