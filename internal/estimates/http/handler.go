// Package estimateshttp exposes cost documents over a JSON API.
package estimateshttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
	"github.com/odyssey-erp/odyssey-construction/internal/variance"
)

type estimateService interface {
	Create(ctx context.Context, input estimates.CreateInput) (estimates.Document, []estimates.SideEffect, error)
	Get(ctx context.Context, id string) (estimates.Document, error)
	List(ctx context.Context, filters estimates.ListFilters) ([]estimates.Document, error)
	Save(ctx context.Context, doc estimates.Document) (estimates.Document, []estimates.SideEffect, error)
	ApplyField(ctx context.Context, id string, change estimates.FieldChange) (estimates.Document, []estimates.SideEffect, error)
	Indent(ctx context.Context, id string, selection []string, parentID string) (estimates.Document, []estimates.SideEffect, error)
	Outdent(ctx context.Context, id string, selection []string) (estimates.Document, []estimates.SideEffect, error)
	AddSection(ctx context.Context, id, code, name string) (estimates.Document, []estimates.SideEffect, error)
	VerifyQuantity(ctx context.Context, id, itemID, actor string, verified bool) (estimates.Document, error)
	Submit(ctx context.Context, id, actor string) (estimates.Document, error)
	Approve(ctx context.Context, id, approver string) (estimates.Document, error)
	Reject(ctx context.Context, id, actor, reason string) (estimates.Document, error)
	RequestRevision(ctx context.Context, id, notes string) (estimates.Document, error)
	Cancel(ctx context.Context, id string) (estimates.Document, error)
	NewRevision(ctx context.Context, id string) (estimates.Document, error)
	DetailFromPreliminary(ctx context.Context, id string) (estimates.Document, error)
	Totals(ctx context.Context, id string) (rollup.Totals, error)
	Variance(ctx context.Context, id string, baseline *float64) (variance.Variance, error)
	Compare(ctx context.Context, id, budgetID string) (estimates.Comparison, error)
	ExportXLSX(ctx context.Context, id string, w io.Writer) (estimates.Document, error)
	RequestRecompute(ctx context.Context, id, reason string) error
}

// Handler serves the estimates API.
type Handler struct {
	logger    *slog.Logger
	service   estimateService
	validator *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service estimateService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

// MountRoutes registers routes under the current router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/estimates", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Put("/", h.save)
			r.Post("/fields", h.applyField)
			r.Post("/items/indent", h.indent)
			r.Post("/items/outdent", h.outdent)
			r.Post("/items/verify", h.verify)
			r.Post("/sections", h.addSection)
			r.Post("/submit", h.submit)
			r.Post("/approve", h.approve)
			r.Post("/reject", h.reject)
			r.Post("/revision", h.requestRevision)
			r.Post("/cancel", h.cancel)
			r.Post("/amend", h.newRevision)
			r.Post("/detailed", h.detailFromPreliminary)
			r.Post("/recompute", h.recompute)
			r.Get("/totals", h.totals)
			r.Get("/variance", h.variance)
			r.Get("/compare/{budgetID}", h.compare)
			r.Get("/export.xlsx", h.export)
		})
	})
}

type documentResponse struct {
	Document estimates.Document     `json:"document"`
	Effects  []estimates.SideEffect `json:"effects,omitempty"`
}

type indentRequest struct {
	Items      []string `json:"items" validate:"required,min=1,dive,required"`
	ParentItem string   `json:"parent_item" validate:"required"`
}

type outdentRequest struct {
	Items []string `json:"items" validate:"required,min=1,dive,required"`
}

type verifyRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Actor    string `json:"actor" validate:"required"`
	Verified bool   `json:"verified"`
}

type sectionRequest struct {
	Code string `json:"item_code" validate:"max=40"`
	Name string `json:"item_name" validate:"required,max=140"`
}

type actorRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type rejectRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

type revisionRequest struct {
	Notes string `json:"notes"`
}

type recomputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := estimates.ListFilters{
		Kind:   estimates.Kind(q.Get("kind")),
		Status: estimates.Status(q.Get("status")),
	}
	if filters.Kind != "" && !filters.Kind.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("unknown kind %q", filters.Kind))
		return
	}
	var err error
	if filters.Limit, err = intParam(q.Get("limit")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "limit must be a number")
		return
	}
	if filters.Offset, err = intParam(q.Get("offset")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "offset must be a number")
		return
	}
	docs, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input estimates.CreateInput
	if !h.decode(w, r, &input) {
		return
	}
	doc, effects, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/estimates/"+doc.ID)
	httpx.JSON(w, http.StatusCreated, documentResponse{Document: doc, Effects: effects})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	var doc estimates.Document
	if err := httpx.DecodeJSON(r, &doc); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	doc.ID = chi.URLParam(r, "id")
	saved, effects, err := h.service.Save(r.Context(), doc)
	h.respondDocument(w, r, saved, effects, err)
}

func (h *Handler) applyField(w http.ResponseWriter, r *http.Request) {
	var change estimates.FieldChange
	if !h.decode(w, r, &change) {
		return
	}
	doc, effects, err := h.service.ApplyField(r.Context(), chi.URLParam(r, "id"), change)
	h.respondDocument(w, r, doc, effects, err)
}

func (h *Handler) indent(w http.ResponseWriter, r *http.Request) {
	var req indentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, effects, err := h.service.Indent(r.Context(), chi.URLParam(r, "id"), req.Items, req.ParentItem)
	h.respondDocument(w, r, doc, effects, err)
}

func (h *Handler) outdent(w http.ResponseWriter, r *http.Request) {
	var req outdentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, effects, err := h.service.Outdent(r.Context(), chi.URLParam(r, "id"), req.Items)
	h.respondDocument(w, r, doc, effects, err)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.VerifyQuantity(r.Context(), chi.URLParam(r, "id"), req.ItemID, req.Actor, req.Verified)
	h.respondDocument(w, r, doc, nil, err)
}

func (h *Handler) addSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, effects, err := h.service.AddSection(r.Context(), chi.URLParam(r, "id"), req.Code, req.Name)
	h.respondDocument(w, r, doc, effects, err)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.Submit(r.Context(), chi.URLParam(r, "id"), req.Actor)
	h.respondDocument(w, r, doc, nil, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"), req.Actor)
	h.respondDocument(w, r, doc, nil, err)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	h.respondDocument(w, r, doc, nil, err)
}

func (h *Handler) requestRevision(w http.ResponseWriter, r *http.Request) {
	var req revisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.RequestRevision(r.Context(), chi.URLParam(r, "id"), req.Notes)
	h.respondDocument(w, r, doc, nil, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	h.respondDocument(w, r, doc, nil, err)
}

func (h *Handler) newRevision(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.NewRevision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/estimates/"+doc.ID)
	httpx.JSON(w, http.StatusCreated, documentResponse{Document: doc})
}

func (h *Handler) detailFromPreliminary(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.DetailFromPreliminary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/estimates/"+doc.ID)
	httpx.JSON(w, http.StatusCreated, documentResponse{Document: doc})
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "api"
	}
	if err := h.service.RequestRecompute(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.service.Totals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) variance(w http.ResponseWriter, r *http.Request) {
	var baseline *float64
	if raw := r.URL.Query().Get("baseline"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "baseline must be a finite number")
			return
		}
		baseline = &v
	}
	result, err := h.service.Variance(r.Context(), chi.URLParam(r, "id"), baseline)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"variance":  result,
		"indicator": result.Status.Indicator(),
	})
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Compare(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "budgetID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var buf bytes.Buffer
	doc, err := h.service.ExportXLSX(r.Context(), id, &buf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			httpx.JSON(w, http.StatusUnprocessableEntity, httpx.ProblemDetail{
				Title:  "Validation Failed",
				Status: http.StatusUnprocessableEntity,
				Detail: fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()),
				Field:  fe.Field(),
			})
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondDocument(w http.ResponseWriter, r *http.Request, doc estimates.Document, effects []estimates.SideEffect, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse{Document: doc, Effects: effects})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cycle   *hierarchy.CycleError
		invalid *hierarchy.InvalidParentError
		batch   *hierarchy.BatchError
	)
	switch {
	case errors.As(err, &batch), errors.As(err, &cycle), errors.As(err, &invalid),
		errors.Is(err, estimates.ErrSameApprover):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected Change", err.Error())
	case errors.Is(err, hierarchy.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, estimates.ErrInvalidTransition), errors.Is(err, estimates.ErrNotEditable):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, estimates.ErrUnknownField):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Field", err.Error())
	default:
		if !shared.IsValidation(err) && !estimates.IsNotFound(err) && !errors.Is(err, shared.ErrConflict) {
			h.logger.Error("estimates request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func exportFilename(doc estimates.Document) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, doc.Title)
	if name == "" {
		name = doc.ID
	}
	return fmt.Sprintf("%s-rev%d.xlsx", name, doc.Revision)
}
