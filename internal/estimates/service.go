package estimates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
	"github.com/odyssey-erp/odyssey-construction/internal/rollup"
	"github.com/odyssey-erp/odyssey-construction/internal/shared"
	"github.com/odyssey-erp/odyssey-construction/internal/variance"
	"github.com/odyssey-erp/odyssey-construction/jobs"
)

// Store is the persistence the service depends on.
type Store interface {
	Create(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (Document, error)
	Update(ctx context.Context, doc Document) error
	SaveRevision(ctx context.Context, previous, next Document) error
	List(ctx context.Context, filters ListFilters) ([]Document, error)
	RecordRecalculation(ctx context.Context, doc Document, source string, at time.Time) error
}

// Enqueuer schedules background recalculation.
type Enqueuer interface {
	EnqueueEstimateRecompute(ctx context.Context, payload jobs.EstimateRecomputePayload) error
}

// Recorder observes recalculations and exports.
type Recorder interface {
	ObserveRecalculation(kind, source string, grandTotal float64)
	ObserveExport(format string)
}

// ServiceConfig collects optional collaborators and settings.
type ServiceConfig struct {
	Precision int
	Currency  string
	Language  language.Tag
	Logger    *slog.Logger
	Enqueuer  Enqueuer
	Recorder  Recorder
	Now       func() time.Time
	NewID     func() string
}

// Service coordinates document editing, workflow and recalculation.
type Service struct {
	store    Store
	cache    *Cache
	enqueuer Enqueuer
	recorder Recorder
	logger   *slog.Logger
	calc     Calculator
	currency string
	lang     language.Tag
	newID    func() string
}

// NewService builds the service.
func NewService(store Store, cache *Cache, cfg ServiceConfig) *Service {
	calc := NewCalculator(cfg.Precision)
	if cfg.Now != nil {
		calc.Now = cfg.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &Service{
		store:    store,
		cache:    cache,
		enqueuer: cfg.Enqueuer,
		recorder: cfg.Recorder,
		logger:   logger,
		calc:     calc,
		currency: cfg.Currency,
		lang:     cfg.Language,
		newID:    newID,
	}
}

// Calculator exposes the calculator configured for the service.
func (s *Service) Calculator() Calculator {
	return s.calc
}

// Create validates, prices and stores a new document.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, []SideEffect, error) {
	now := s.calc.now()
	doc := Document{
		ID:                         s.newID(),
		Kind:                       input.Kind,
		Title:                      strings.TrimSpace(input.Title),
		Project:                    input.Project,
		Currency:                   input.Currency,
		Status:                     StatusDraft,
		Revision:                   1,
		Items:                      input.Items,
		Percentages:                input.Percentages,
		Categories:                 input.Categories,
		AllowHierarchicalItems:     input.AllowHierarchicalItems || input.Kind.Leveled(),
		EnableQuantityVerification: input.EnableQuantityVerification,
		Baseline:                   input.Baseline,
		TotalBudget:                input.TotalBudget,
		EstimationDate:             input.EstimationDate,
		ExpectedStartDate:          input.ExpectedStartDate,
		ExpectedCompletionDate:     input.ExpectedCompletionDate,
		PreparedBy:                 input.PreparedBy,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if doc.Title == "" {
		return Document{}, nil, shared.NewValidationError("title", "title is required")
	}
	if doc.Currency == "" {
		doc.Currency = s.currency
	}
	doc = doc.Clone()
	s.assignItemIDs(&doc)
	s.calc.Recalculate(&doc)
	if err := s.calc.Validate(doc); err != nil {
		return Document{}, nil, err
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return Document{}, nil, err
	}
	s.afterWrite(ctx, doc, "create", true)
	return doc, suggestions(doc), nil
}

// Get returns a document, served from the cache when possible.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	return s.cache.FetchDocument(ctx, id, func(ctx context.Context) (Document, error) {
		return s.store.Get(ctx, id)
	})
}

// List returns documents matching filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Document, error) {
	return s.store.List(ctx, filters)
}

// Save replaces the editable content of a document and recalculates it. Identity,
// status and workflow fields are kept from the stored copy.
func (s *Service) Save(ctx context.Context, doc Document) (Document, []SideEffect, error) {
	return s.mutate(ctx, doc.ID, true, "save", func(stored Document) (Document, []SideEffect, error) {
		next := doc.Clone()
		next.Kind = stored.Kind
		next.Status = stored.Status
		next.Revision = stored.Revision
		next.AmendedFrom = stored.AmendedFrom
		next.BasedOn = stored.BasedOn
		next.PreparedBy = stored.PreparedBy
		next.SubmittedOn = stored.SubmittedOn
		next.ApprovedBy = stored.ApprovedBy
		next.ApprovedOn = stored.ApprovedOn
		next.RejectedBy = stored.RejectedBy
		next.RejectedOn = stored.RejectedOn
		next.RejectionReason = stored.RejectionReason
		next.CreatedAt = stored.CreatedAt
		s.assignItemIDs(&next)
		s.calc.Recalculate(&next)
		if err := s.calc.Validate(next); err != nil {
			return stored, nil, err
		}
		return next, append(s.calc.refresh(&next), suggestions(next)...), nil
	})
}

// ApplyField applies one field change and stores the result.
func (s *Service) ApplyField(ctx context.Context, id string, change FieldChange) (Document, []SideEffect, error) {
	editable := strings.TrimSpace(change.Field) != "status"
	return s.mutate(ctx, id, editable, "field:"+change.Field, func(stored Document) (Document, []SideEffect, error) {
		return s.calc.ApplyFieldChange(stored, change)
	})
}

// Indent nests the selected rows under parentID. Either every row moves or none does.
func (s *Service) Indent(ctx context.Context, id string, selection []string, parentID string) (Document, []SideEffect, error) {
	return s.mutate(ctx, id, true, "indent", func(stored Document) (Document, []SideEffect, error) {
		if !stored.AllowHierarchicalItems {
			return stored, nil, shared.NewValidationError("allow_hierarchical_items", "enable hierarchical items to indent rows")
		}
		next := stored.Clone()
		tree, err := treeOf(next)
		if err != nil {
			return stored, nil, err
		}
		if err := tree.Indent(selection, parentID); err != nil {
			return stored, nil, err
		}
		return next, s.calc.refresh(&next), nil
	})
}

// Outdent moves the selected rows back to the top level.
func (s *Service) Outdent(ctx context.Context, id string, selection []string) (Document, []SideEffect, error) {
	return s.mutate(ctx, id, true, "outdent", func(stored Document) (Document, []SideEffect, error) {
		next := stored.Clone()
		tree, err := treeOf(next)
		if err != nil {
			return stored, nil, err
		}
		if err := tree.Outdent(selection); err != nil {
			return stored, nil, err
		}
		return next, s.calc.refresh(&next), nil
	})
}

// AddSection appends a lump-sum section row that other rows can be nested under.
func (s *Service) AddSection(ctx context.Context, id, code, name string) (Document, []SideEffect, error) {
	return s.mutate(ctx, id, true, "add_section", func(stored Document) (Document, []SideEffect, error) {
		if !stored.AllowHierarchicalItems {
			return stored, nil, shared.NewValidationError("allow_hierarchical_items", "enable hierarchical items to add sections")
		}
		if strings.TrimSpace(name) == "" {
			return stored, nil, shared.NewValidationError("item_name", "section name is required")
		}
		next := stored.Clone()
		tree, err := treeOf(next)
		if err != nil {
			return stored, nil, err
		}
		if _, err := tree.AddSection(s.newID(), code, name); err != nil {
			return stored, nil, err
		}
		rows := tree.Items()
		next.Items = make([]lineitem.LineItem, len(rows))
		for i, row := range rows {
			next.Items[i] = *row
		}
		return next, s.calc.refresh(&next), nil
	})
}

// VerifyQuantity records the quantity check of a BOQ row.
func (s *Service) VerifyQuantity(ctx context.Context, id, itemID, actor string, verified bool) (Document, error) {
	doc, _, err := s.mutate(ctx, id, false, "verify", func(stored Document) (Document, []SideEffect, error) {
		next, err := s.calc.VerifyQuantity(stored, itemID, actor, verified)
		return next, nil, err
	})
	return doc, err
}

// Submit hands a document in for review.
func (s *Service) Submit(ctx context.Context, id, actor string) (Document, error) {
	return s.workflow(ctx, id, "submit", func(doc Document) (Document, error) {
		return s.calc.Submit(doc, actor)
	})
}

// Approve approves a submitted document.
func (s *Service) Approve(ctx context.Context, id, approver string) (Document, error) {
	return s.workflow(ctx, id, "approve", func(doc Document) (Document, error) {
		return s.calc.Approve(doc, approver)
	})
}

// Reject rejects a submitted document with a reason.
func (s *Service) Reject(ctx context.Context, id, actor, reason string) (Document, error) {
	return s.workflow(ctx, id, "reject", func(doc Document) (Document, error) {
		return s.calc.Reject(doc, actor, reason)
	})
}

// RequestRevision returns a submitted document to its preparer.
func (s *Service) RequestRevision(ctx context.Context, id, notes string) (Document, error) {
	return s.workflow(ctx, id, "request_revision", func(doc Document) (Document, error) {
		return s.calc.RequestRevision(doc, notes)
	})
}

// Cancel voids a document.
func (s *Service) Cancel(ctx context.Context, id string) (Document, error) {
	return s.workflow(ctx, id, "cancel", func(doc Document) (Document, error) {
		return s.calc.Cancel(doc)
	})
}

// NewRevision starts the next revision of an approved or rejected document.
func (s *Service) NewRevision(ctx context.Context, id string) (Document, error) {
	previous, err := s.store.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	next, err := s.calc.NewRevision(previous, s.newID())
	if err != nil {
		return Document{}, err
	}
	s.calc.Recalculate(&next)
	if err := s.store.SaveRevision(ctx, previous, next); err != nil {
		return Document{}, err
	}
	s.afterWrite(ctx, previous, "revision", false)
	s.afterWrite(ctx, next, "revision", true)
	return next, nil
}

// DetailFromPreliminary stores a new detailed estimate carried over from the preliminary
// estimate id.
func (s *Service) DetailFromPreliminary(ctx context.Context, id string) (Document, error) {
	prelim, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	doc, err := s.calc.DetailFromPreliminary(prelim, s.newID())
	if err != nil {
		return Document{}, err
	}
	if doc.Currency == "" {
		doc.Currency = s.currency
	}
	s.assignItemIDs(&doc)
	if err := s.calc.Validate(doc); err != nil {
		return Document{}, err
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return Document{}, err
	}
	s.afterWrite(ctx, doc, "carry_over", true)
	s.logger.Info("detailed estimate carried over", slog.String("id", doc.ID), slog.String("based_on", id), slog.Int("items", len(doc.Items)))
	return doc, nil
}

// Totals returns the derived totals of a document.
func (s *Service) Totals(ctx context.Context, id string) (rollup.Totals, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return rollup.Totals{}, err
	}
	return doc.Totals, nil
}

// Variance measures the document's grand total against baseline, or against the stored
// baseline when none is given. A zero baseline is reported through BaselineZero.
func (s *Service) Variance(ctx context.Context, id string, baseline *float64) (variance.Variance, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return variance.Variance{}, err
	}
	if baseline == nil {
		baseline = doc.Baseline
	}
	if baseline == nil {
		return variance.Variance{}, shared.NewValidationError("baseline", "no baseline given and none stored on %s", id)
	}
	if err := shared.ValidateFinite("baseline", *baseline); err != nil {
		return variance.Variance{}, err
	}
	return compare(doc.Totals.GrandTotal, *baseline), nil
}

// Compare measures an estimate against a project budget.
func (s *Service) Compare(ctx context.Context, id, budgetID string) (Comparison, error) {
	estimate, err := s.Get(ctx, id)
	if err != nil {
		return Comparison{}, err
	}
	budget, err := s.Get(ctx, budgetID)
	if err != nil {
		return Comparison{}, err
	}
	return CompareWithBudget(estimate, budget)
}

// ExportXLSX writes the document as a spreadsheet.
func (s *Service) ExportXLSX(ctx context.Context, id string, w io.Writer) (Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := ExportXLSX(doc, w, ExportOptions{Precision: s.calc.Precision, Language: s.lang}); err != nil {
		return Document{}, err
	}
	if s.recorder != nil {
		s.recorder.ObserveExport("xlsx")
	}
	return doc, nil
}

// Recompute reloads a stored document, recalculates it and stores the result.
func (s *Service) Recompute(ctx context.Context, id, source string) (Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	s.calc.Recalculate(&doc)
	doc.UpdatedAt = s.calc.now()
	if err := s.store.Update(ctx, doc); err != nil {
		return Document{}, err
	}
	s.afterWrite(ctx, doc, source, true)
	return doc, nil
}

// RecomputeDocument is Recompute for the background job. A missing document is reported
// as jobs.ErrDocumentGone so the task is dropped instead of retried.
func (s *Service) RecomputeDocument(ctx context.Context, id, source string) error {
	_, err := s.Recompute(ctx, id, source)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: %s", jobs.ErrDocumentGone, id)
	}
	return err
}

// RecomputeOpen recalculates every editable document and returns how many were updated.
// IDs are collected before any write since recomputing reorders the listing.
func (s *Service) RecomputeOpen(ctx context.Context) (int, error) {
	const pageSize = 100
	var ids []string
	for _, status := range []Status{StatusDraft, StatusInProgress, StatusRevisionRequired} {
		for offset := 0; ; offset += pageSize {
			docs, err := s.store.List(ctx, ListFilters{Status: status, Limit: pageSize, Offset: offset})
			if err != nil {
				return 0, err
			}
			for _, doc := range docs {
				ids = append(ids, doc.ID)
			}
			if len(docs) < pageSize {
				break
			}
		}
	}
	count := 0
	for _, id := range ids {
		if _, err := s.Recompute(ctx, id, "job"); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return count, fmt.Errorf("estimates: recompute %s: %w", id, err)
		}
		count++
	}
	return count, nil
}

// RequestRecompute schedules a background recalculation, or runs it inline when no queue
// is configured.
func (s *Service) RequestRecompute(ctx context.Context, id, reason string) error {
	if s.enqueuer == nil {
		_, err := s.Recompute(ctx, id, "inline")
		return err
	}
	return s.enqueuer.EnqueueEstimateRecompute(ctx, jobs.EstimateRecomputePayload{DocumentID: id, Reason: reason})
}

func (s *Service) workflow(ctx context.Context, id, action string, fn func(Document) (Document, error)) (Document, error) {
	doc, _, err := s.mutate(ctx, id, false, action, func(stored Document) (Document, []SideEffect, error) {
		next, err := fn(stored)
		return next, nil, err
	})
	if err == nil {
		s.logger.Info("document workflow", slog.String("id", id), slog.String("action", action), slog.String("status", string(doc.Status)))
	}
	return doc, err
}

// mutate loads the stored document, applies fn and persists the outcome.
func (s *Service) mutate(ctx context.Context, id string, requireEditable bool, source string, fn func(Document) (Document, []SideEffect, error)) (Document, []SideEffect, error) {
	if id == "" {
		return Document{}, nil, shared.NewValidationError("id", "document id is required")
	}
	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	if requireEditable && !stored.Status.Editable() {
		return Document{}, nil, fmt.Errorf("%w: %s is %s", ErrNotEditable, id, stored.Status)
	}
	next, effects, err := fn(stored)
	if err != nil {
		return Document{}, nil, err
	}
	if err := s.calc.checkIntegrity(next); err != nil {
		return Document{}, nil, err
	}
	next.UpdatedAt = s.calc.now()
	if err := s.store.Update(ctx, next); err != nil {
		return Document{}, nil, err
	}
	s.afterWrite(ctx, next, source, recalculated(effects))
	return next, effects, nil
}

func (s *Service) afterWrite(ctx context.Context, doc Document, source string, recalc bool) {
	if err := s.cache.Bump(ctx, doc.ID); err != nil {
		s.logger.Warn("bump estimate cache", slog.String("id", doc.ID), slog.Any("error", err))
	}
	if !recalc {
		return
	}
	if s.recorder != nil {
		s.recorder.ObserveRecalculation(string(doc.Kind), metricSource(source), doc.Totals.GrandTotal)
	}
	if err := s.store.RecordRecalculation(ctx, doc, source, doc.UpdatedAt); err != nil {
		s.logger.Warn("record recalculation", slog.String("id", doc.ID), slog.Any("error", err))
	}
}

func (s *Service) assignItemIDs(doc *Document) {
	for i := range doc.Items {
		if doc.Items[i].ID == "" {
			doc.Items[i].ID = s.newID()
		}
	}
}

func recalculated(effects []SideEffect) bool {
	for _, e := range effects {
		if e.Kind == EffectRecalculatedTotals {
			return true
		}
	}
	return false
}

func suggestions(doc Document) []SideEffect {
	if effect, ok := SuggestCompletion(doc); ok {
		return []SideEffect{effect}
	}
	return nil
}

// metricSource keeps label cardinality bounded.
func metricSource(source string) string {
	if strings.HasPrefix(source, "field:") {
		return "field"
	}
	return source
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound) || errors.Is(err, hierarchy.ErrItemNotFound)
}
