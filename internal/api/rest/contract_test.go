package rest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
)

// contractCall runs one request through the router and checks the response
// against openapi.yaml. Requests the handler is expected to accept are
// checked too.
func (f *apiFixture) contractCall(t *testing.T, cv *ContractValidator, method, path string, body interface{}, token string, validRequest bool) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	newRequest := func() *http.Request {
		req := httptest.NewRequest(method, path, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req
	}

	if validRequest {
		require.NoError(t, cv.ValidateRequest(newRequest()), "%s %s", method, path)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, newRequest())
	require.NoError(t, cv.ValidateResponse(newRequest(), rec.Code, rec.Header(), rec.Body.Bytes()),
		"%s %s -> %d %s", method, path, rec.Code, rec.Body.String())
	return rec
}

func TestContractValidator_LoadsDocument(t *testing.T) {
	cv, err := NewContractValidator()
	require.NoError(t, err)
	assert.Equal(t, "DNC Guard API", cv.doc.Info.Title)

	for _, path := range []string{"/api/v1/dnc/settings", "/api/v1/dnc/registry/{id}", "/api/v1/dnc/evaluate", "/api/v1/dispatch"} {
		assert.NotNil(t, cv.doc.Paths.Find(path), path)
	}

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/openapi.yaml", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, openAPIDocument, rec.Body.Bytes())
}

func TestContract_HandlersMatchDocument(t *testing.T) {
	cv, err := NewContractValidator()
	require.NoError(t, err)

	f := newAPIFixture(t)
	f.store.AddCustomer(dnc.Customer{ID: 7, FullName: "Jane Smith", Phone: "+15551234567", Email: "jane@example.com"})
	token := f.token(t)

	t.Run("settings", func(t *testing.T) {
		rec := f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/settings", nil, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodPatch, "/api/v1/dnc/settings", map[string]bool{"allow_overrides": true}, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodPost, "/api/v1/dnc/settings", map[string]bool{"nonsense": true}, "", false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	var entry dnc.RegistryEntry
	t.Run("registry", func(t *testing.T) {
		rec := f.contractCall(t, cv, http.MethodPost, "/api/v1/dnc/registry", map[string]interface{}{
			"name":                    "jane smith",
			"phone":                   "(555) 123-4567",
			"email":                   "jane@example.com",
			"dnc_type":                "Both",
			"allow_override_requests": true,
			"reason":                  "asked on call",
		}, "", true)
		require.Equal(t, http.StatusCreated, rec.Code)
		decodeBody(t, rec, &entry)

		rec = f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/registry?type=Both&limit=10", nil, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/registry/"+entry.ID.String(), nil, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/registry/not-a-uuid", nil, "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/statistics", nil, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("evaluate and override", func(t *testing.T) {
		rec := f.contractCall(t, cv, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{"phone_number": "+15550000000"}, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodPost, "/api/v1/dnc/evaluate", map[string]interface{}{"phone_number": "+15551234567"}, "", true)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		override := map[string]interface{}{
			"dnc_entry":     entry.ID.String(),
			"override_type": "Permanent",
			"reason":        "consent on file",
		}
		rec = f.contractCall(t, cv, http.MethodPost, "/api/v1/dnc/override", override, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		rec = f.contractCall(t, cv, http.MethodPost, "/api/v1/dnc/override", override, token, true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/override?dnc_entry="+entry.ID.String(), nil, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("dispatch", func(t *testing.T) {
		rec := f.contractCall(t, cv, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
			"channel": "sms", "recipient": "+15551234567", "body": "Your renewal reminder",
		}, token, true)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.contractCall(t, cv, http.MethodPost, "/api/v1/dispatch", map[string]interface{}{
			"channel": "fax", "recipient": "+15551234567",
		}, token, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("upload", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "dnc.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte("Phone,Email\n+15559999999,nobody@example.com\n"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/dnc/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		check := httptest.NewRequest(http.MethodPost, "/api/v1/dnc/upload", nil)
		assert.NoError(t, cv.ValidateResponse(check, rec.Code, rec.Header(), rec.Body.Bytes()))
	})

	t.Run("delete", func(t *testing.T) {
		rec := f.contractCall(t, cv, http.MethodDelete, "/api/v1/dnc/registry/"+entry.ID.String(), nil, "", true)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = f.contractCall(t, cv, http.MethodGet, "/api/v1/dnc/registry/"+entry.ID.String(), nil, "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("healthz", func(t *testing.T) {
		rec := f.contractCall(t, cv, http.MethodGet, "/healthz", nil, "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestContractValidator_RejectsDrift(t *testing.T) {
	cv, err := NewContractValidator()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dnc/statistics", nil)
	header := http.Header{"Content-Type": []string{"application/json"}}

	assert.NoError(t, cv.ValidateResponse(req, http.StatusOK, header,
		[]byte(`{"total_active":1,"phone_active":1,"email_active":0,"government_registry":0}`)))
	assert.Error(t, cv.ValidateResponse(req, http.StatusOK, header,
		[]byte(`{"total_active":1}`)), "missing counters")
	assert.Error(t, cv.ValidateResponse(req, http.StatusOK, header,
		[]byte(`{"total_active":"one","phone_active":1,"email_active":0,"government_registry":0}`)), "wrong type")

	decision := httptest.NewRequest(http.MethodPost, "/api/v1/dnc/evaluate", nil)
	assert.Error(t, cv.ValidateResponse(decision, http.StatusOK, header, []byte(`{"allowed":true}`)))
}

func TestContractMiddleware(t *testing.T) {
	cv, err := NewContractValidator()
	require.NoError(t, err)
	f := newAPIFixture(t, func(d *Dependencies) { d.Contract = cv })

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{name: "unknown settings field", method: http.MethodPost, path: "/api/v1/dnc/settings", body: map[string]bool{"nonsense": true}, status: http.StatusBadRequest, code: "CONTRACT_VIOLATION"},
		{name: "wrong field type", method: http.MethodPost, path: "/api/v1/dnc/evaluate", body: map[string]interface{}{"phone_number": 5}, status: http.StatusBadRequest, code: "CONTRACT_VIOLATION"},
		{name: "negative limit", method: http.MethodGet, path: "/api/v1/dnc/registry?limit=-1", status: http.StatusBadRequest, code: "CONTRACT_VIOLATION"},
		{name: "valid request passes", method: http.MethodPost, path: "/api/v1/dnc/evaluate", body: map[string]interface{}{"phone_number": "+15550000000"}, status: http.StatusOK},
		{name: "unknown route falls through", method: http.MethodGet, path: "/api/v1/dnc/unknown", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, "")
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				var errBody ErrorResponse
				decodeBody(t, rec, &errBody)
				assert.Equal(t, tt.code, errBody.Error.Code)
			}
		})
	}

	t.Run("body is still readable by the handler", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/v1/dnc/settings", map[string]bool{"auto_check": false}, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var cfg dnc.PolicyConfiguration
		decodeBody(t, rec, &cfg)
		assert.False(t, cfg.AutoCheckEnabled)
	})
}
