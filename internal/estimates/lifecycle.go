package estimates

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

var transitions = map[Status][]Status{
	StatusDraft:            {StatusInProgress, StatusSubmitted, StatusCompleted, StatusCancelled},
	StatusInProgress:       {StatusDraft, StatusSubmitted, StatusCompleted, StatusCancelled},
	StatusSubmitted:        {StatusUnderReview, StatusApproved, StatusRejected, StatusRevisionRequired, StatusCancelled},
	StatusUnderReview:      {StatusApproved, StatusRejected, StatusRevisionRequired},
	StatusRevisionRequired: {StatusInProgress, StatusSubmitted, StatusCancelled},
	StatusApproved:         {StatusCompleted, StatusCancelled},
	StatusRejected:         {StatusCancelled},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to Status) bool {
	if from == "" {
		from = StatusDraft
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(doc Document, to Status) error {
	if !CanTransition(doc.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, to)
	}
	return nil
}

// Transition moves doc to a status that needs no actor. Submission, approval and
// rejection go through their dedicated operations.
func (c Calculator) Transition(doc Document, to Status) (Document, error) {
	switch to {
	case StatusSubmitted, StatusApproved, StatusRejected, StatusRevisionRequired:
		return doc, shared.NewValidationError("status", "status %s must be set through its workflow action", to)
	}
	if err := checkTransition(doc, to); err != nil {
		return doc, err
	}
	out := doc.Clone()
	out.Status = to
	out.UpdatedAt = c.now()
	return out, nil
}

// Submit hands the document in for review.
func (c Calculator) Submit(doc Document, actor string) (Document, error) {
	if err := checkTransition(doc, StatusSubmitted); err != nil {
		return doc, err
	}
	if len(doc.Items) == 0 && len(doc.Categories) == 0 {
		return doc, shared.NewValidationError("items", "add at least one item before submitting")
	}
	if err := c.Validate(doc); err != nil {
		return doc, err
	}
	out := doc.Clone()
	c.Recalculate(&out)
	now := c.now()
	if out.PreparedBy == "" {
		out.PreparedBy = actor
	}
	out.Status = StatusSubmitted
	out.SubmittedOn = &now
	out.UpdatedAt = now
	return out, nil
}

// Approve records approval. The approver must be named and must not be the preparer.
func (c Calculator) Approve(doc Document, approver string) (Document, error) {
	if err := checkTransition(doc, StatusApproved); err != nil {
		return doc, err
	}
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return doc, shared.NewValidationError("approved_by", "approver is required")
	}
	if doc.PreparedBy != "" && strings.EqualFold(approver, doc.PreparedBy) {
		return doc, ErrSameApprover
	}
	out := doc.Clone()
	now := c.now()
	out.Status = StatusApproved
	out.ApprovedBy = approver
	out.ApprovedOn = &now
	out.UpdatedAt = now
	return out, nil
}

// Reject records a rejection. A reason is mandatory.
func (c Calculator) Reject(doc Document, actor, reason string) (Document, error) {
	if err := checkTransition(doc, StatusRejected); err != nil {
		return doc, err
	}
	if strings.TrimSpace(reason) == "" {
		return doc, shared.NewValidationError("rejection_reason", "please provide a reason for rejection")
	}
	out := doc.Clone()
	now := c.now()
	out.Status = StatusRejected
	out.RejectedBy = actor
	out.RejectedOn = &now
	out.RejectionReason = strings.TrimSpace(reason)
	out.UpdatedAt = now
	return out, nil
}

// RequestRevision sends the document back to the preparer.
func (c Calculator) RequestRevision(doc Document, notes string) (Document, error) {
	if err := checkTransition(doc, StatusRevisionRequired); err != nil {
		return doc, err
	}
	out := doc.Clone()
	out.Status = StatusRevisionRequired
	out.RevisionNotes = strings.TrimSpace(notes)
	out.UpdatedAt = c.now()
	return out, nil
}

// NewRevision copies an approved or rejected document into a fresh draft with the next
// revision number.
func (c Calculator) NewRevision(doc Document, newID string) (Document, error) {
	if doc.Status != StatusApproved && doc.Status != StatusRejected {
		return doc, fmt.Errorf("%w: a new revision needs an approved or rejected document, got %s", ErrInvalidTransition, doc.Status)
	}
	if newID == "" {
		return doc, shared.NewValidationError("id", "revision id is required")
	}
	out := doc.Clone()
	now := c.now()
	out.ID = newID
	out.AmendedFrom = doc.ID
	out.Revision = doc.Revision + 1
	out.Status = StatusDraft
	out.SubmittedOn = nil
	out.ApprovedBy = ""
	out.ApprovedOn = nil
	out.RejectedBy = ""
	out.RejectedOn = nil
	out.RejectionReason = ""
	out.RevisionNotes = ""
	out.CreatedAt = now
	out.UpdatedAt = now
	return out, nil
}

// Cancel voids the document.
func (c Calculator) Cancel(doc Document) (Document, error) {
	if err := checkTransition(doc, StatusCancelled); err != nil {
		return doc, err
	}
	out := doc.Clone()
	out.Status = StatusCancelled
	out.UpdatedAt = c.now()
	return out, nil
}
