package invoicing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/warelink-erp/warelink/internal/erp"
	"github.com/warelink-erp/warelink/internal/platform/httpx"
	"github.com/warelink-erp/warelink/internal/rbac"
	"github.com/warelink-erp/warelink/internal/serials"
	"github.com/warelink-erp/warelink/internal/shared"
)

// RoleSource reports a user's role for actor elevation.
type RoleSource interface {
	Role(ctx context.Context, userID int64) (string, error)
}

// PartnerDirectory lists ERP customers for the scanner UI's picker.
type PartnerDirectory interface {
	ListBusinessPartners(ctx context.Context) ([]erp.BusinessPartner, error)
	Configured() bool
}

// Handler exposes the invoice draft REST surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver SerialResolver
	partners PartnerDirectory
	roles    RoleSource
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver SerialResolver, partners PartnerDirectory, roles RoleSource) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		resolver: resolver,
		partners: partners,
		roles:    roles,
		validate: validator.New(),
	}
}

// MountRoutes registers the invoicing routes behind the permission guard.
func (h *Handler) MountRoutes(r chi.Router, guard rbac.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(rbac.PermInvoiceView))
		r.Get("/", h.listDrafts)
		r.Get("/{draftID}", h.getDraft)
		r.Get("/business-partners", h.listPartners)
		r.With(httprate.LimitByIP(60, time.Minute)).Get("/serials/validate", h.validateSerial)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(rbac.PermInvoiceCreate))
		r.Post("/", h.createDraft)
		r.Post("/cleanup", h.cleanup)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(rbac.PermInvoiceEdit))
		r.Post("/{draftID}/line-items", h.addSerial)
		r.Delete("/{draftID}/line-items/{serialID}", h.removeSerial)
		r.Delete("/{draftID}/line-items", h.clearAll)
		r.Post("/{draftID}/submit", h.submit)
		r.Delete("/{draftID}", h.deleteDraft)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAny(rbac.PermInvoiceApprove))
		r.Post("/{draftID}/approve", h.approve)
		r.Post("/{draftID}/reject", h.reject)
	})
}

func (h *Handler) actor(r *http.Request) (Actor, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == 0 {
		return Actor{}, false
	}
	role, err := h.roles.Role(r.Context(), sess.User())
	if err != nil {
		h.logger.Error("load actor role", slog.Any("error", err))
		return Actor{}, false
	}
	return Actor{UserID: sess.User(), Elevated: rbac.Elevated(role)}, true
}

func draftIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "draftID"), 10, 64)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, serials.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "serial number or draft not found")
	case errors.Is(err, ErrAccessDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "draft belongs to another user")
	case errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusBadRequest, "Invalid State", "operation not allowed in the current status")
	case errors.Is(err, ErrEmptyDraft):
		httpx.Problem(w, http.StatusBadRequest, "Invalid State", "draft has no line items")
	case errors.Is(err, ErrMissingCustomer):
		httpx.Problem(w, http.StatusBadRequest, "Invalid State", "draft has no customer assigned")
	case errors.Is(err, ErrDraftNotEmpty):
		httpx.Problem(w, http.StatusBadRequest, "Invalid State", "draft still has line items")
	case errors.Is(err, erp.ErrUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "ERP service unavailable")
	default:
		h.logger.Error("invoicing request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	draft, err := h.service.CreateDraft(r.Context(), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"draft_id": draft.ID,
		"draft":    draft,
	})
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}

	req := ListDraftsRequest{Limit: 20}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := DraftStatus(v)
		req.Status = &status
	}
	if v := q.Get("customer"); v != "" {
		req.Customer = &v
	}
	if v := q.Get("search"); v != "" {
		req.Search = &v
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date_from must be YYYY-MM-DD")
			return
		}
		req.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date_to must be YYYY-MM-DD")
			return
		}
		req.DateTo = &t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			req.Limit = n
		}
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			req.Offset = (n - 1) * req.Limit
		}
	}

	drafts, total, err := h.service.ListDrafts(r.Context(), actor, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if drafts == nil {
		drafts = []InvoiceDraft{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"drafts": drafts,
		"total":  total,
	})
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}
	draft, err := h.service.GetDraft(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

type addSerialRequest struct {
	SerialNumber string `json:"serial_number" validate:"required"`
	CustomerCode string `json:"customer_code"`
}

func (h *Handler) addSerial(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}

	var req addSerialRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "serial_number is required")
		return
	}

	added, err := h.service.AddSerial(r.Context(), actor, id, req.SerialNumber, req.CustomerCode)
	if err != nil {
		// Duplicate and frozen-customer refusals carry a flag so the
		// scanner UI can tell them apart without parsing the message.
		switch {
		case errors.Is(err, ErrDuplicateSerial):
			httpx.JSON(w, http.StatusBadRequest, map[string]any{
				"error":     "serial number already in draft",
				"duplicate": true,
			})
		case errors.Is(err, ErrCustomerMismatch):
			httpx.JSON(w, http.StatusBadRequest, map[string]any{
				"error":           "serial belongs to a different customer",
				"customer_locked": true,
			})
		default:
			h.respondError(w, err)
		}
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"serial_id":        added.SerialID,
		"line_id":          added.LineID,
		"line_number":      added.LineNumber,
		"serial_number":    added.Serial,
		"item_code":        added.ItemCode,
		"item_description": added.ItemDescription,
		"warehouse_code":   added.WarehouseCode,
		"warehouse_name":   added.WarehouseName,
		"customer_locked":  added.CustomerLocked,
	})
}

func (h *Handler) removeSerial(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}
	serialID, err := strconv.ParseInt(chi.URLParam(r, "serialID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid serial id")
		return
	}
	if err := h.service.RemoveSerial(r.Context(), actor, id, serialID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "serial removed"})
}

func (h *Handler) clearAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}
	cleared, err := h.service.ClearAll(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items_cleared": cleared})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}
	if err := h.service.SubmitForReview(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"draft_id": id,
		"status":   StatusPendingQC,
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}

	draft, err := h.service.Approve(r.Context(), actor, id)
	if err != nil {
		var remote *erp.RemoteError
		if errors.As(err, &remote) {
			// ERP refused the document: the draft is marked failed and the
			// refusal is surfaced verbatim for correction.
			httpx.JSON(w, http.StatusInternalServerError, map[string]any{
				"error":  remote.Message,
				"status": StatusFailed,
			})
			return
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"draft_id":       draft.ID,
		"status":         draft.Status,
		"invoice_number": draft.InvoiceNumber,
		"erp_doc_entry":  draft.ErpDocEntry,
		"erp_doc_num":    draft.ErpDocNum,
	})
}

type rejectRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}
	var req rejectRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
			return
		}
	}
	if err := h.service.Reject(r.Context(), actor, id, req.RejectionReason); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"draft_id": id,
		"status":   StatusRejected,
	})
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	id, err := draftIDParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid draft id")
		return
	}
	if err := h.service.DeleteDraft(r.Context(), actor, id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "draft deleted"})
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	deleted, err := h.service.CleanupEmptyDrafts(r.Context(), actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *Handler) validateSerial(w http.ResponseWriter, r *http.Request) {
	serial := r.URL.Query().Get("serial_number")
	if serial == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "serial_number is required")
		return
	}

	resolved, source, err := h.resolver.Resolve(r.Context(), serial)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if expected := r.URL.Query().Get("customer_code"); expected != "" &&
		resolved.CustomerCode != "" && resolved.CustomerCode != expected {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"valid":           false,
			"customer_locked": true,
			"serial":          resolved,
			"source":          source,
		})
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"serial": resolved,
		"source": source,
	})
}

func (h *Handler) listPartners(w http.ResponseWriter, r *http.Request) {
	if !h.partners.Configured() {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"partners":     []erp.BusinessPartner{},
			"offline_mode": true,
		})
		return
	}
	partners, err := h.partners.ListBusinessPartners(r.Context())
	if err != nil {
		if errors.Is(err, erp.ErrUnavailable) {
			httpx.JSON(w, http.StatusOK, map[string]any{
				"partners":     []erp.BusinessPartner{},
				"offline_mode": true,
			})
			return
		}
		h.respondError(w, err)
		return
	}
	if partners == nil {
		partners = []erp.BusinessPartner{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"partners":     partners,
		"offline_mode": false,
	})
}
