package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
	"github.com/davidleathers/dnc-guard/internal/domain/errors"
	"github.com/davidleathers/dnc-guard/internal/domain/values"
	dncsvc "github.com/davidleathers/dnc-guard/internal/service/dnc"
	"github.com/davidleathers/dnc-guard/internal/service/enforcement"
)

// Handler serves the DNC API.
type Handler struct {
	policy     *dncsvc.PolicyService
	registry   *dncsvc.Registry
	overrides  *dncsvc.OverrideService
	engine     *dncsvc.Engine
	dispatcher *enforcement.Dispatcher
	validate   *validator.Validate
	logger     *slog.Logger
	maxUpload  int64
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h *Handler) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, r, h.logger, err)
		}
	}
}

// Settings

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) error {
	cfg, err := h.policy.Get(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cfg)
	return nil
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) error {
	var patch dnc.PolicyPatch
	if err := decodeJSON(r, h.validate, &patch); err != nil {
		return err
	}
	cfg, err := h.policy.Update(r.Context(), patch)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, cfg)
	return nil
}

// Registry

type createEntryRequest struct {
	Name                  string     `json:"name"`
	Phone                 string     `json:"phone"`
	Email                 string     `json:"email" validate:"omitempty,email"`
	DNCType               string     `json:"dnc_type"`
	Source                string     `json:"source"`
	Status                string     `json:"status"`
	AllowOverrideRequests bool       `json:"allow_override_requests"`
	Reason                string     `json:"reason"`
	EffectiveDate         *time.Time `json:"effective_date"`
	ExpiryDate            *time.Time `json:"expiry_date"`
	ClientID              *int64     `json:"client_id"`
	CaseID                *int64     `json:"case_id"`
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) error {
	var req createEntryRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		return err
	}

	create := dncsvc.CreateEntryRequest{
		Name:             req.Name,
		Phone:            req.Phone,
		Email:            req.Email,
		OverrideEligible: req.AllowOverrideRequests,
		Reason:           req.Reason,
		EffectiveAt:      req.EffectiveDate,
		ExpiresAt:        req.ExpiryDate,
		ClientID:         req.ClientID,
		CaseID:           req.CaseID,
	}
	var err error
	if req.DNCType != "" {
		if create.Scope, err = dnc.ParseScope(req.DNCType); err != nil {
			return err
		}
	}
	if req.Source != "" {
		if create.Source, err = dnc.ParseSource(req.Source); err != nil {
			return err
		}
	}
	if req.Status != "" {
		if create.Status, err = dnc.ParseStatus(req.Status); err != nil {
			return err
		}
	}

	entry, err := h.registry.Create(r.Context(), create)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, entry)
	return nil
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	filter := dnc.EntryFilter{
		Phone:  q.Get("phone"),
		Search: q.Get("search"),
	}

	var err error
	if v := q.Get("status"); v != "" {
		if filter.Status, err = dnc.ParseStatus(v); err != nil {
			return err
		}
	}
	if v := q.Get("type"); v != "" {
		if filter.Scope, err = dnc.ParseScope(v); err != nil {
			return err
		}
	}
	if v := q.Get("source"); v != "" {
		if filter.Source, err = dnc.ParseSource(v); err != nil {
			return err
		}
	}
	if filter.Limit, filter.Offset, err = pagination(r); err != nil {
		return err
	}

	entries, err := h.registry.List(r.Context(), filter)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*dnc.RegistryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": entries, "count": len(entries)})
	return nil
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	entry, err := h.registry.Get(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, entry)
	return nil
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) error {
	id, err := pathUUID(r, "id")
	if err != nil {
		return err
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) error {
	stats, err := h.registry.Statistics(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stats)
	return nil
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewValidationError("FILE_TOO_LARGE", "uploaded file is too large")
		}
		return errors.NewValidationError("INVALID_UPLOAD", "expected a multipart form with a file field").WithCause(err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return errors.NewValidationError("MISSING_FILE", "no file uploaded").
			WithDetails(map[string]interface{}{"field": "file"})
	}
	defer file.Close()

	report, err := h.registry.ImportCSV(r.Context(), file)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Status:       "success",
		Message:      fmt.Sprintf("%d records uploaded and verified", report.Imported),
		ImportReport: report,
	})
	return nil
}

// uploadResponse keeps the legacy status and message next to the report.
type uploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	*dncsvc.ImportReport
}

// Overrides

type createOverrideRequest struct {
	EntryID      string     `json:"dnc_entry" validate:"omitempty,uuid"`
	OverrideType string     `json:"override_type" validate:"required"`
	Reason       string     `json:"reason"`
	EndDate      *time.Time `json:"end_date"`

	// Older clients name the entry with one of these keys.
	LegacyEntryID string `json:"dnc_entry_id" validate:"omitempty,uuid"`
	AltEntryID    string `json:"entry_id" validate:"omitempty,uuid"`
}

func (req createOverrideRequest) entryID() (uuid.UUID, error) {
	for _, v := range []string{req.EntryID, req.LegacyEntryID, req.AltEntryID} {
		if v != "" {
			return uuid.Parse(v)
		}
	}
	return uuid.Nil, errors.NewValidationError("MISSING_FIELD", "dnc_entry is required").
		WithDetails(map[string]interface{}{"field": "dnc_entry"})
}

func (h *Handler) createOverride(w http.ResponseWriter, r *http.Request) error {
	var req createOverrideRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		return err
	}
	entryID, err := req.entryID()
	if err != nil {
		return err
	}
	typ, err := dnc.ParseOverrideType(req.OverrideType)
	if err != nil {
		return err
	}

	override, err := h.overrides.CreateOverride(r.Context(), dncsvc.CreateOverrideRequest{
		EntryID:      entryID,
		OverrideType: typ,
		Reason:       req.Reason,
		EndDate:      req.EndDate,
	}, UserFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"authorized_by": override.AuthorizedBy,
		"override":      override,
	})
	return nil
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) error {
	filter := dnc.OverrideFilter{}
	if v := r.URL.Query().Get("dnc_entry"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return errors.NewValidationError("INVALID_ID", "dnc_entry must be a UUID").
				WithDetails(map[string]interface{}{"field": "dnc_entry"})
		}
		filter.EntryID = &id
	}
	var err error
	if filter.Limit, filter.Offset, err = pagination(r); err != nil {
		return err
	}

	overrides, err := h.overrides.List(r.Context(), filter)
	if err != nil {
		return err
	}
	if overrides == nil {
		overrides = []*dnc.OverrideLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": overrides, "count": len(overrides)})
	return nil
}

// Decisions

type evaluateRequest struct {
	PhoneNumber     string `json:"phone_number"`
	Email           string `json:"email" validate:"omitempty,email"`
	Identifier      string `json:"identifier"`
	RequestOverride bool   `json:"request_override"`
	Reason          string `json:"reason"`
	Source          string `json:"source"`
}

func (req evaluateRequest) contact() values.ContactIdentifier {
	id := values.NewContactIdentifier(req.PhoneNumber, req.Email)
	if id.IsEmpty() {
		id = values.ParseContact(req.Identifier)
	}
	return id
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) error {
	var req evaluateRequest
	if err := decodeJSON(r, h.validate, &req); err != nil {
		return err
	}

	decision, err := h.engine.Evaluate(r.Context(), dncsvc.EvaluateRequest{
		Identifier:        req.contact(),
		User:              UserFromContext(r.Context()),
		OverrideRequested: req.RequestOverride,
		Source:            req.Source,
		Reason:            req.Reason,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, decision)
	return nil
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) error {
	var intent enforcement.DispatchIntent
	if err := decodeJSON(r, h.validate, &intent); err != nil {
		return err
	}
	result, err := h.dispatcher.Send(r.Context(), intent)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

// Health

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

func (h *Handler) healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "fail: " + err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "pass"
		}

		overall := "pass"
		if status != http.StatusOK {
			overall = "fail"
		}
		writeJSON(w, status, map[string]interface{}{"status": overall, "checks": results})
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", name+" must be a UUID").
			WithDetails(map[string]interface{}{"field": name})
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errors.NewValidationError("INVALID_QUERY", "limit must be a non-negative integer").
				WithDetails(map[string]interface{}{"field": "limit"})
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.NewValidationError("INVALID_QUERY", "offset must be a non-negative integer").
				WithDetails(map[string]interface{}{"field": "offset"})
		}
	}
	return limit, offset, nil
}
