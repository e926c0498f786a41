package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/memstore"
	"github.com/davidleathers/dnc-guard/internal/metrics"
	dncsvc "github.com/davidleathers/dnc-guard/internal/service/dnc"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

const testSecret = "test-secret-at-least-16"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type apiFixture struct {
	store   *memstore.Store
	handler http.Handler
	auth    *AuthMiddleware
	sent    *int32
}

func newAPIFixture(t *testing.T, opts ...func(*Dependencies)) *apiFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	slogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	store := memstore.New()
	clock := dnc.NewMockClock(testNow)
	m := metrics.New(prometheus.NewRegistry())

	policy, err := dncsvc.NewPolicyService(logger, store.Policy(), nil, clock)
	require.NoError(t, err)
	registry, err := dncsvc.NewRegistry(logger, dncsvc.RegistryConfig{}, store.Entries(), store.Customers(), store.Clients(), clock, m)
	require.NoError(t, err)
	overrides, err := dncsvc.NewOverrideService(logger, store.Entries(), store.Overrides(), policy, clock, m)
	require.NoError(t, err)
	engine, err := dncsvc.NewEngine(logger, policy, registry, overrides, m)
	require.NoError(t, err)
	interceptor, err := enforcement.NewInterceptor(engine, logger, enforcement.Config{}, m)
	require.NoError(t, err)

	var sent int32
	dispatcher, err := enforcement.NewDispatcher(interceptor, map[enforcement.Channel]enforcement.Sender{
		enforcement.ChannelSMS: enforcement.SenderFunc(func(ctx context.Context, intent enforcement.DispatchIntent) (*enforcement.DispatchResult, error) {
			atomic.AddInt32(&sent, 1)
			return &enforcement.DispatchResult{Status: enforcement.StatusSent, ProviderID: "p-1"}, nil
		}),
	})
	require.NoError(t, err)

	auth := NewAuthMiddleware(testSecret, "dnc-guard", slogger)
	deps := Dependencies{
		Policy:        policy,
		Registry:      registry,
		Overrides:     overrides,
		Engine:        engine,
		Dispatcher:    dispatcher,
		Auth:          auth,
		Metrics:       m,
		Gatherer:      prometheus.NewRegistry(),
		Logger:        slogger,
		EvaluateRPS:   1000,
		EvaluateBurst: 1000,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	handler, err := NewRouter(deps)
	require.NoError(t, err)

	return &apiFixture{store: store, handler: handler, auth: auth, sent: &sent}
}

func (f *apiFixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.auth.GenerateToken(dncsvc.User{ID: "42", Username: "alice"}, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) addEntry(t *testing.T, eligible bool) *dnc.RegistryEntry {
	t.Helper()
	effective := testNow.Add(-time.Hour)
	entry, err := dnc.NewRegistryEntry(dnc.EntryParams{
		DisplayName:      "Jane Smith",
		PhoneNumber:      "+15551234567",
		EffectiveAt:      &effective,
		OverrideEligible: eligible,
	}, effective)
	require.NoError(t, err)
	require.NoError(t, f.store.Entries().Save(context.Background(), entry))
	return entry
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSettings(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/dnc/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg dnc.PolicyConfiguration
	decodeBody(t, rec, &cfg)
	assert.True(t, cfg.CheckingEnabled)
	assert.False(t, cfg.OverridesAllowed)

	rec = f.do(t, http.MethodPatch, "/api/v1/dnc/settings", map[string]bool{"allow_overrides": true}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &cfg)
	assert.True(t, cfg.OverridesAllowed)
	assert.True(t, cfg.BlockingEnabled, "unspecified fields keep their value")

	rec = f.do(t, http.MethodPost, "/api/v1/dnc/settings", map[string]bool{"nonsense": true}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody ErrorResponse
	decodeBody(t, rec, &errBody)
	assert.Equal(t, "UNKNOWN_FIELD", errBody.Error.Code)
}

func TestEvaluate(t *testing.T) {
	t.Run("unlisted contact is allowed", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{"phone_number": "555-000-0000"}, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var d dnc.Decision
		decodeBody(t, rec, &d)
		assert.True(t, d.Allowed)
		assert.Equal(t, dnc.MessageNotListed, d.Message)
	})

	t.Run("listed contact is forbidden", func(t *testing.T) {
		f := newAPIFixture(t)
		entry := f.addEntry(t, true)
		rec := f.do(t, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{"identifier": "(555) 123-4567"}, "")
		require.Equal(t, http.StatusForbidden, rec.Code)
		var errBody ErrorResponse
		decodeBody(t, rec, &errBody)
		assert.Equal(t, "DNC_BLOCKED", errBody.Error.Code)
		assert.Equal(t, entry.ID.String(), errBody.Error.Details["entry_id"])
	})

	t.Run("override with token is approved", func(t *testing.T) {
		f := newAPIFixture(t)
		f.addEntry(t, true)
		f.do(t, http.MethodPatch, "/api/v1/dnc/settings", map[string]bool{"allow_overrides": true}, "")

		rec := f.do(t, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{
			"phone_number":     "+15551234567",
			"request_override": true,
		}, f.token(t))
		require.Equal(t, http.StatusOK, rec.Code)
		var d dnc.Decision
		decodeBody(t, rec, &d)
		assert.True(t, d.OverrideUsed)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{"phone_number": "+15551234567"}, "garbage")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("empty identifier", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRegistryEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.store.AddCustomer(dnc.Customer{ID: 7, FullName: "Jane Smith", Phone: "+15551234567", Email: "jane@example.com"})

	rec := f.do(t, http.MethodPost, "/api/v1/dnc/registry", map[string]interface{}{
		"name":     "jane smith",
		"phone":    "(555) 123-4567",
		"email":    "jane@example.com",
		"dnc_type": "Both",
		"source":   "Customer",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry dnc.RegistryEntry
	decodeBody(t, rec, &entry)
	assert.Equal(t, dnc.ScopeBoth, entry.Scope)
	assert.Equal(t, dnc.SourceCustomerRequest, entry.Source)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/registry/"+entry.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/registry?type=Both&status=Active&search=jane", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Results []dnc.RegistryEntry `json:"results"`
		Count   int                 `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/registry?type=Fax", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/registry?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/statistics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats dnc.Statistics
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(1), stats.TotalActive)

	rec = f.do(t, http.MethodDelete, "/api/v1/dnc/registry/"+entry.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/registry/"+entry.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/registry/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEntry_UnknownCustomer(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/dnc/registry", map[string]interface{}{
		"name": "Nobody", "phone": "+15550000000", "email": "nobody@example.com",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody ErrorResponse
	decodeBody(t, rec, &errBody)
	assert.Equal(t, "CUSTOMER_NOT_FOUND", errBody.Error.Code)
}

func TestUpload(t *testing.T) {
	f := newAPIFixture(t)
	f.store.AddCustomer(dnc.Customer{ID: 1, FullName: "A", Phone: "+15551111111", Email: "a@example.com"})
	f.store.AddCustomer(dnc.Customer{ID: 2, FullName: "B", Phone: "+15552222222", Email: "b@example.com"})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "dnc.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Phone,Email,DNC Type,Source,Reason\n" +
		"+15551111111,a@example.com,Phone Only,Manual Entry,asked\n" +
		"+15552222222,b@example.com,,,\n" +
		"+15553333333,c@example.com,,,\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dnc/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		dncsvc.ImportReport
	}
	decodeBody(t, rec, &report)
	assert.Equal(t, "success", report.Status)
	assert.Equal(t, "2 records uploaded and verified", report.Message)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.Rows, 3)

	rec = f.do(t, http.MethodPost, "/api/v1/dnc/upload", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverrideEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	entry := f.addEntry(t, true)
	f.do(t, http.MethodPatch, "/api/v1/dnc/settings", map[string]bool{"allow_overrides": true}, "")

	body := map[string]interface{}{
		"dnc_entry":     entry.ID.String(),
		"override_type": "Permanent",
		"reason":        "customer consent on file",
	}

	rec := f.do(t, http.MethodPost, "/api/v1/dnc/override", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/dnc/override", body, f.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created map[string]interface{}
	decodeBody(t, rec, &created)
	assert.Equal(t, "success", created["status"])
	assert.Equal(t, "alice", created["authorized_by"])

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/override?dnc_entry="+entry.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = f.do(t, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{"phone_number": "+15551234567"}, "")
	assert.Equal(t, http.StatusOK, rec.Code, "permanent override lifts the block")

	for _, key := range []string{"dnc_entry_id", "entry_id"} {
		rec = f.do(t, http.MethodPost, "/api/v1/dnc/override", map[string]interface{}{
			key: entry.ID.String(), "override_type": "Manual", "reason": "legacy client",
		}, f.token(t))
		assert.Equal(t, http.StatusOK, rec.Code, key+": "+rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/v1/dnc/override?dnc_entry="+entry.ID.String(), nil, "")
	decodeBody(t, rec, &list)
	assert.Equal(t, 3, list.Count)

	rec = f.do(t, http.MethodPost, "/api/v1/dnc/override", map[string]interface{}{
		"dnc_entry": "nope", "override_type": "Manual",
	}, f.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/dnc/override", map[string]interface{}{
		"override_type": "Manual",
	}, f.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatch(t *testing.T) {
	f := newAPIFixture(t)
	f.addEntry(t, false)
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
		"channel": "sms", "recipient": "+15551234567", "body": "Big sale today",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var result enforcement.DispatchResult
	decodeBody(t, rec, &result)
	assert.True(t, result.Blocked)
	assert.Equal(t, int32(0), atomic.LoadInt32(f.sent))

	rec = f.do(t, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
		"channel": "sms", "recipient": "+15551234567", "body": "Your renewal reminder",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &result)
	assert.Equal(t, enforcement.StatusSent, result.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(f.sent))

	rec = f.do(t, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
		"channel": "fax", "recipient": "+15551234567",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
		"channel": "email", "recipient": "jane@example.com",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no email sender configured")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
