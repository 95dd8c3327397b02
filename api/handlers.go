/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes commission.Service via REST. Handles HTTP request/response, JSON
  serialization and input validation, and delegates to the service.

ENDPOINTS:
  Policies:
    GET    /api/policies                                  List policies
    POST   /api/policies                                  Create policy (JSON or YAML body)
    GET    /api/policies/{code}                           Get policy
    PUT    /api/policies/{code}                           Replace policy
    DELETE /api/policies/{code}                           Delete policy

  Periods:
    GET    /api/periods/{month}                           Status and totals
    GET    /api/periods/{month}/records                   Records of the month
    POST   /api/periods/{month}/sync                      Recompute the month
    POST   /api/periods/{month}/lock                      Finalize the month
    POST   /api/periods/{month}/unlock                    Reopen the month (reason required)
    POST   /api/periods/{month}/records                   Add a record manually
    PUT    /api/periods/{month}/records/{employeeID}/adjustment
    DELETE /api/periods/{month}/records/{employeeID}
    GET    /api/periods/{month}/audit                     Audit trail, newest first
    GET    /api/periods/{month}/runs                      Sync runs, newest first

ACTOR:
  Every write names its actor in the X-Actor header. It is stored in the
  audit log; requests without it are rejected.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid month, nothing to finalize
  - 404: Policy or record not found
  - 409: Period locked, duplicates, incomplete sync
  - 207: Sync wrote some records but failed for others
  - 500: Internal errors

SECURITY NOTE:
  X-Actor is trusted as sent. Authentication belongs in front of this
  service.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
)

// ActorHeader names the caller recorded in the audit log.
const ActorHeader = "X-Actor"

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service       *commission.Service
	PolicyFactory *factory.PolicyFactory

	log      logrus.FieldLogger
	validate *validator.Validate
}

func NewHandler(svc *commission.Service, log logrus.FieldLogger) *Handler {
	return &Handler{
		Service:       svc,
		PolicyFactory: factory.NewPolicyFactory(),
		log:           log,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Service.ListPolicies(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = ToPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPolicy(r.Context(), commission.PolicyCode(chi.URLParam(r, "code")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPolicyDTO(p))
}

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.readPolicy(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	created, err := h.Service.CreatePolicy(r.Context(), p, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToPolicyDTO(created))
}

// UpdatePolicy replaces the policy named in the path. Existing records keep
// their snapshots; only later syncs see the new values.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	p, err := h.readPolicy(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	code := commission.PolicyCode(chi.URLParam(r, "code"))
	if p.Code != code {
		writeError(w, http.StatusBadRequest, "Policy code does not match path", nil)
		return
	}
	updated, err := h.Service.UpdatePolicy(r.Context(), p, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPolicyDTO(updated))
}

func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeletePolicy(r.Context(), commission.PolicyCode(chi.URLParam(r, "code")), actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readPolicy accepts a JSON policy, or YAML when the content type says so.
func (h *Handler) readPolicy(r *http.Request) (commission.Policy, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return commission.Policy{}, &commission.ValidationError{Reason: "unreadable body"}
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.Contains(mediaType, "yaml") {
		return h.PolicyFactory.ParsePolicyYAML(body)
	}
	return h.PolicyFactory.ParsePolicy(body)
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	summary, err := h.Service.GetPeriod(r.Context(), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPeriodDTO(summary))
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	records, err := h.Service.GetRecords(r.Context(), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToRecordDTOs(records))
}

// SyncPeriod recomputes the month. A partial failure still returns the
// result, with 207 and the failed employees listed.
func (h *Handler) SyncPeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	result, err := h.Service.Sync(r.Context(), month, actor)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ToSyncResponse(result))
	case errors.Is(err, commission.ErrPartialAggregation) && result != nil:
		writeJSON(w, http.StatusMultiStatus, ToSyncResponse(result))
	default:
		h.writeServiceError(w, r, err)
	}
}

func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	summary, err := h.Service.Lock(r.Context(), month, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPeriodDTO(summary))
}

func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req UnlockRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	summary, err := h.Service.Unlock(r.Context(), month, actor, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPeriodDTO(summary))
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req CreateRecordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	in := commission.ManualRecordInput{
		EmployeeID: commission.EmployeeID(req.EmployeeID),
		Month:      month,
		PolicyCode: commission.PolicyCode(req.PolicyCode),
	}
	var err error
	if in.ManualAdjustment, err = parseAmount("manual_adjustment", req.ManualAdjustment); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if req.ActualRevenue != nil {
		actual, err := parseAmount("actual_revenue", *req.ActualRevenue)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		in.ActualRevenue = &actual
	}

	rec, err := h.Service.AddRecord(r.Context(), in, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToRecordDTO(rec))
}

// SetAdjustment replaces the manual adjustment and recomputes the record
// against its own policy snapshot.
func (h *Handler) SetAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	adjustment, err := parseAmount("manual_adjustment", req.ManualAdjustment)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	emp := commission.EmployeeID(chi.URLParam(r, "employeeID"))
	rec, err := h.Service.RecalculateOne(r.Context(), emp, month, adjustment, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToRecordDTO(rec))
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	emp := commission.EmployeeID(chi.URLParam(r, "employeeID"))
	if err := h.Service.DeleteRecord(r.Context(), emp, month, actor); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HISTORY HANDLERS
// =============================================================================

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
		limit = n
	}
	entries, err := h.Service.AuditTrail(r.Context(), month, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ToAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}
	runs, err := h.Service.SyncRuns(r.Context(), month)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]SyncRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = ToSyncRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		writeError(w, http.StatusBadRequest, "Missing "+ActorHeader+" header", nil)
		return "", false
	}
	return actor, true
}

func (h *Handler) monthParam(w http.ResponseWriter, r *http.Request) (commission.Month, bool) {
	month, err := commission.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return commission.Month{}, false
	}
	return month, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		parts[i] = fe.Field() + " failed " + fe.Tag()
	}
	return errors.New(strings.Join(parts, "; "))
}

// writeServiceError maps the commission error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var partial *commission.PartialAggregationError
	switch {
	case commission.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case commission.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.As(err, &partial):
		writeJSON(w, http.StatusMultiStatus, ErrorResponse{
			Error:    "Partial failure",
			Details:  err.Error(),
			Failures: toFailureDTOs(partial.Failures),
		})
	default:
		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
