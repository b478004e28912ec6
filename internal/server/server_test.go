package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"stallfront/internal/config"
	"stallfront/internal/db"
	"stallfront/internal/engine"
	"stallfront/internal/migrate"
)

// fakeUpstreams stands in for the asset host and the payments processor.
type fakeUpstreams struct {
	assets   *httptest.Server
	payments *httptest.Server

	mu            sync.Mutex
	failRecipient bool
	deleted       []string
}

func (f *fakeUpstreams) setFailRecipient(fail bool) {
	f.mu.Lock()
	f.failRecipient = fail
	f.mu.Unlock()
}

func newFakeUpstreams(t *testing.T) *fakeUpstreams {
	t.Helper()
	f := &fakeUpstreams{}
	f.assets = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"asset_id":"asset-7","url":"https://cdn.test/asset-7/logo.png"}`)
		case r.Method == http.MethodDelete:
			f.mu.Lock()
			f.deleted = append(f.deleted, r.URL.Path)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.assets.Close)
	f.payments = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/bank/resolve":
			io.WriteString(w, `{"status":true,"message":"ok","data":{"account_name":"Jane Doe","account_number":"0123456789"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/transferrecipient":
			f.mu.Lock()
			fail := f.failRecipient
			f.mu.Unlock()
			if fail {
				io.WriteString(w, `{"status":false,"message":"processor unavailable"}`)
				return
			}
			io.WriteString(w, `{"status":true,"message":"created","data":{"recipient_code":"RCP_001"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.payments.Close)
	return f
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, up *fakeUpstreams) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("mkt-test")
	cfg.Assets.BaseURL = up.assets.URL
	cfg.Payments.BaseURL = up.payments.URL
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:         "test-secret",
		AllowVendorHeader: true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vendor-Id", "vnd-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func fillWizardHTTP(t *testing.T, srv *testServer) {
	t.Helper()
	client := srv.Client()
	stages := []struct {
		name string
		body map[string]any
	}{
		{"basics", map[string]any{"store_name": "Acme", "owner_name": "Jane Doe", "phone": "+2348012345678"}},
		{"details", map[string]any{"bio": "Handmade ceramics from Lagos", "category": "crafts"}},
		{"social", map[string]any{}},
		{"payout", map[string]any{"bank_code": "058", "account_number": "0123456789", "account_name": "Jane Doe"}},
	}
	for _, st := range stages {
		res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/onboarding/stages/"+st.name, st.body, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("save %s: %d %s", st.name, res.StatusCode, string(data))
		}
	}
}

func TestOnboardingFlow(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/onboarding/stages/basics", map[string]any{
		"store_name": "Acme",
		"owner_name": "Jane Doe",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save basics: %d %s", res.StatusCode, string(data))
	}

	// Resume: the wizard reports the next stage with the saved data intact.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/onboarding/wizard", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get wizard: %d %s", res.StatusCode, string(data))
	}
	var state WizardStateResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal wizard: %v", err)
	}
	if state.Stage != "details" || state.Stages.Basics == nil {
		t.Fatalf("unexpected resume state: %s", string(data))
	}

	for _, st := range []struct {
		name string
		body map[string]any
	}{
		{"details", map[string]any{"bio": "Handmade ceramics from Lagos", "category": "crafts"}},
		{"social", map[string]any{}},
		{"payout", map[string]any{"bank_code": "058", "account_number": "0123456789", "account_name": "Jane Doe"}},
	} {
		res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/onboarding/stages/"+st.name, st.body, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("save %s: %d %s", st.name, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/onboarding/submit", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created VendorResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal vendor: %v", err)
	}
	if created.VerificationStatus != "pending" {
		t.Fatalf("expected pending verification, got %q", created.VerificationStatus)
	}
	if created.PayoutRecipientID != "RCP_001" {
		t.Fatalf("unexpected recipient id %q", created.PayoutRecipientID)
	}

	// The wizard is reset after success.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/onboarding/wizard", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatal("get wizard after submit")
	}
	state = WizardStateResponse{}
	_ = json.Unmarshal(data, &state)
	if state.Stage != "basics" || state.Stages.Basics != nil {
		t.Fatalf("wizard not reset: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/vendors/vnd-1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get vendor: %d %s", res.StatusCode, string(data))
	}
}

func TestSaveStageValidationErrors(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/onboarding/stages/basics", map[string]any{
		"store_name": "A",
		"owner_name": "Jane Doe",
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "validation_failed" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
	fields, _ := env.Error.Details["field_errors"].(map[string]any)
	if _, ok := fields["store_name"]; !ok {
		t.Fatalf("expected store_name field error: %s", string(data))
	}
}

func TestSaveStageAheadIsRejected(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/onboarding/stages/payout", map[string]any{
		"bank_code": "058", "account_number": "0123456789", "account_name": "Jane Doe",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for unreachable stage, got %d %s", res.StatusCode, string(data))
	}
}

func TestSubmitFailureSurfacesCompensations(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()
	client := srv.Client()
	fillWizardHTTP(t, srv)

	up.setFailRecipient(true)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/onboarding/submit", nil, nil)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", res.StatusCode, string(data))
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "onboarding_failed" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
	if env.Error.Details["failed_step"] != "CREATE_PAYMENT_RECIPIENT" {
		t.Fatalf("unexpected failed_step: %v", env.Error.Details)
	}

	// The wizard keeps the entered data and records the failure.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/onboarding/wizard", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatal("get wizard after failure")
	}
	var state WizardStateResponse
	_ = json.Unmarshal(data, &state)
	if state.SubmissionError == "" || state.Stages.Payout == nil {
		t.Fatalf("failure not recorded on wizard: %s", string(data))
	}

	// A retry re-runs the whole sequence once the processor recovers.
	up.setFailRecipient(false)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/onboarding/submit", nil, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("retry submit: %d %s", res.StatusCode, string(data))
	}
}

func TestResolveBankAccount(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/v0/banks/resolve?bank_code=058&account_number=0123456789", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", res.StatusCode, string(data))
	}
	var out ResolveAccountResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.AccountName != "Jane Doe" {
		t.Fatalf("unexpected account name %q", out.AccountName)
	}
}

func TestAuthRequired(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/onboarding/wizard", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	up := newFakeUpstreams(t)
	srv, cleanup := newTestServer(t, up)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"vendor_id": "vnd-jwt",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/onboarding/wizard", nil)
	req.Header.Set("Authorization", "Bearer "+out.Token)
	res2, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("jwt auth failed: %d", res2.StatusCode)
	}
}
