package estimates

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-construction/internal/shared"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{"", StatusSubmitted, true},
		{StatusDraft, StatusInProgress, true},
		{StatusDraft, StatusApproved, false},
		{StatusSubmitted, StatusApproved, true},
		{StatusApproved, StatusDraft, false},
		{StatusRejected, StatusCancelled, true},
		{StatusCancelled, StatusDraft, false},
		{StatusCompleted, StatusCancelled, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%q -> %q: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestSubmitApproveFlow(t *testing.T) {
	calc := testCalculator()
	doc := sampleBOQ()

	submitted, err := calc.Submit(doc, "estimator")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, submitted.Status)
	assert.Equal(t, "estimator", submitted.PreparedBy)
	require.NotNil(t, submitted.SubmittedOn)
	assert.Equal(t, 4750.0, submitted.Totals.GrandTotal)
	assert.Equal(t, StatusDraft, doc.Status)

	_, err = calc.Approve(submitted, "ESTIMATOR")
	assert.True(t, errors.Is(err, ErrSameApprover))

	_, err = calc.Approve(submitted, " ")
	assert.True(t, shared.IsValidation(err))

	approved, err := calc.Approve(submitted, "manager")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "manager", approved.ApprovedBy)
	assert.False(t, approved.Status.Editable())

	_, err = calc.Submit(approved, "estimator")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSubmitRequiresContent(t *testing.T) {
	doc := sampleBOQ()
	doc.Items = nil
	_, err := testCalculator().Submit(doc, "estimator")
	assert.True(t, shared.IsValidation(err))
}

func TestRejectNeedsReason(t *testing.T) {
	calc := testCalculator()
	submitted, err := calc.Submit(sampleBOQ(), "estimator")
	require.NoError(t, err)

	_, err = calc.Reject(submitted, "manager", "")
	assert.True(t, shared.IsValidation(err))

	rejected, err := calc.Reject(submitted, "manager", "  rates are stale ")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "rates are stale", rejected.RejectionReason)
}

func TestRequestRevisionReopensDocument(t *testing.T) {
	calc := testCalculator()
	submitted, err := calc.Submit(sampleBOQ(), "estimator")
	require.NoError(t, err)

	back, err := calc.RequestRevision(submitted, "split preliminaries")
	require.NoError(t, err)
	assert.Equal(t, StatusRevisionRequired, back.Status)
	assert.True(t, back.Status.Editable())
	assert.Equal(t, "split preliminaries", back.RevisionNotes)
}

func TestNewRevision(t *testing.T) {
	calc := testCalculator()
	submitted, err := calc.Submit(sampleBOQ(), "estimator")
	require.NoError(t, err)
	approved, err := calc.Approve(submitted, "manager")
	require.NoError(t, err)

	next, err := calc.NewRevision(approved, "boq-2")
	require.NoError(t, err)
	assert.Equal(t, "boq-2", next.ID)
	assert.Equal(t, "boq-1", next.AmendedFrom)
	assert.Equal(t, 2, next.Revision)
	assert.Equal(t, StatusDraft, next.Status)
	assert.Empty(t, next.ApprovedBy)
	assert.Nil(t, next.SubmittedOn)
	assert.Len(t, next.Items, len(approved.Items))

	_, err = calc.NewRevision(sampleBOQ(), "boq-3")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestCancel(t *testing.T) {
	calc := testCalculator()
	cancelled, err := calc.Cancel(sampleBOQ())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = calc.Cancel(cancelled)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
