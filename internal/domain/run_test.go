package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRun(t *testing.T) *Run {
	t.Helper()
	run, err := NewRun("SPP-100")
	require.NoError(t, err)
	return run
}

func TestNewRun(t *testing.T) {
	t.Run("requires lot number", func(t *testing.T) {
		_, err := NewRun("")
		assert.ErrorIs(t, err, ErrLotNumberRequired)
	})

	t.Run("starts idle", func(t *testing.T) {
		run := newTestRun(t)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, StateIdle, run.State)
		assert.Empty(t, run.Assignments)
		assert.Empty(t, run.Rejections)
	})
}

func TestRunAddAssignment(t *testing.T) {
	t.Run("allocates run-local ids from the current maximum", func(t *testing.T) {
		run := newTestRun(t)
		first, err := run.AddAssignment(OperationAssignment{
			Scan:            "PC-00001",
			Operation:       "Post Curing",
			EmployeeBarcode: "HR-EMP-00001",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, first.ID)

		second, err := run.AddAssignment(OperationAssignment{Operation: "OD Trimming", EmployeeBarcode: "HR-EMP-00002"})
		require.NoError(t, err)
		assert.Equal(t, 2, second.ID)

		run.RemoveAssignment(first.ID)
		third, err := run.AddAssignment(OperationAssignment{Operation: "ID Trimming", EmployeeBarcode: "HR-EMP-00003"})
		require.NoError(t, err)
		assert.Equal(t, 3, third.ID)
	})

	t.Run("rejects duplicate operation", func(t *testing.T) {
		run := newTestRun(t)
		_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)

		_, err = run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00002"})
		assert.ErrorIs(t, err, ErrDuplicateOperation)
	})

	t.Run("rejects duplicate operator and operation pair", func(t *testing.T) {
		run := newTestRun(t)
		_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)

		_, err = run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		assert.ErrorIs(t, err, ErrDuplicateAssignment)
	})

	t.Run("different operations are allowed", func(t *testing.T) {
		run := newTestRun(t)
		_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)
		_, err = run.AddAssignment(OperationAssignment{Operation: "OD Trimming", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)
		assert.Len(t, run.Assignments, 2)
	})
}

func TestRunCheckAssignable(t *testing.T) {
	run := newTestRun(t)
	assert.NoError(t, run.CheckAssignable("Post Curing", "HR-EMP-00001"))

	_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
	require.NoError(t, err)

	// operation uniqueness is reported before the operator pair
	assert.ErrorIs(t, run.CheckAssignable("Post Curing", "HR-EMP-00002"), ErrDuplicateOperation)
	assert.ErrorIs(t, run.CheckAssignable("Post Curing", "HR-EMP-00001"), ErrDuplicateAssignment)
	assert.NoError(t, run.CheckAssignable("OD Trimming", "HR-EMP-00001"))
}

func TestRunRemoveAssignment(t *testing.T) {
	run := newTestRun(t)
	added, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
	require.NoError(t, err)

	run.RemoveAssignment(added.ID)
	assert.Empty(t, run.Assignments)

	// removing an absent id is a no-op
	run.RemoveAssignment(99)
	assert.Empty(t, run.Assignments)
}

func TestRunRejections(t *testing.T) {
	t.Run("valid entry", func(t *testing.T) {
		run := newTestRun(t)
		require.NoError(t, run.AddRejection("TOOL MARK", 10))
		assert.Len(t, run.Rejections, 1)
	})

	t.Run("unknown defect type", func(t *testing.T) {
		run := newTestRun(t)
		assert.ErrorIs(t, run.AddRejection("SCRATCH", 1), ErrInvalidDefectType)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		run := newTestRun(t)
		assert.ErrorIs(t, run.AddRejection("BEND", 0), ErrInvalidRejectionQty)
		assert.ErrorIs(t, run.AddRejection("BEND", -3), ErrInvalidRejectionQty)
	})

	t.Run("remove by position", func(t *testing.T) {
		run := newTestRun(t)
		require.NoError(t, run.AddRejection("TOOL MARK", 10))
		require.NoError(t, run.AddRejection("BEND", 5))

		run.RemoveRejection(0)
		require.Len(t, run.Rejections, 1)
		assert.Equal(t, "BEND", run.Rejections[0].DefectType)

		// out-of-range positions are ignored
		run.RemoveRejection(5)
		run.RemoveRejection(-1)
		assert.Len(t, run.Rejections, 1)
	})
}

func TestRunEnsureSubmittable(t *testing.T) {
	t.Run("requires an assignment", func(t *testing.T) {
		run := newTestRun(t)
		assert.ErrorIs(t, run.EnsureSubmittable(false), ErrNoAssignments)
	})

	t.Run("passes with assignment", func(t *testing.T) {
		run := newTestRun(t)
		_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)
		assert.NoError(t, run.EnsureSubmittable(false))
	})

	t.Run("requireQty enforces positive inspected quantity", func(t *testing.T) {
		run := newTestRun(t)
		_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)

		assert.ErrorIs(t, run.EnsureSubmittable(true), ErrInspectedQtyRequired)

		run.SetInspectedQty("100")
		assert.NoError(t, run.EnsureSubmittable(true))
	})

	t.Run("busy run cannot submit", func(t *testing.T) {
		run := newTestRun(t)
		_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
		require.NoError(t, err)
		require.NoError(t, run.BeginValidation())

		assert.ErrorIs(t, run.EnsureSubmittable(false), ErrRunBusy)
	})
}

func TestRunStateTransitions(t *testing.T) {
	run := newTestRun(t)
	_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
	require.NoError(t, err)
	_, err = run.AddAssignment(OperationAssignment{Operation: "OD Trimming", EmployeeBarcode: "HR-EMP-00002"})
	require.NoError(t, err)

	require.NoError(t, run.BeginValidation())
	assert.Equal(t, StateValidatingLot, run.State)

	assert.ErrorIs(t, run.BeginValidation(), ErrRunBusy)

	run.BeginTagging()
	assert.Equal(t, StateCreatingTagRecords, run.State)

	run.StartTagStep(1, 2, "Post Curing")
	assert.Equal(t, "processing 1 of 2: Post Curing", run.StatusMessage)
	assert.Equal(t, 0, run.Progress)

	run.FinishTagStep(1, 2)
	assert.Equal(t, 50, run.Progress)

	run.StartTagStep(2, 2, "OD Trimming")
	run.FinishTagStep(2, 2)
	assert.Equal(t, 100, run.Progress)

	run.BeginInspection()
	assert.Equal(t, StateCreatingInspection, run.State)

	run.Finish(RunOutcome{Kind: OutcomeCompleted, DocumentID: "INSP-0001"})
	assert.Equal(t, StateIdle, run.State)
	require.NotNil(t, run.LastOutcome)
	assert.Equal(t, OutcomeCompleted, run.LastOutcome.Kind)
	assert.False(t, run.LastOutcome.CompletedAt.IsZero())
}

func TestRunFinishPreservesCollectedState(t *testing.T) {
	run := newTestRun(t)
	_, err := run.AddAssignment(OperationAssignment{Operation: "Post Curing", EmployeeBarcode: "HR-EMP-00001"})
	require.NoError(t, err)
	require.NoError(t, run.AddRejection("BEND", 5))
	run.SetInspectedQty("100")

	require.NoError(t, run.BeginValidation())
	run.Finish(RunOutcome{Kind: OutcomeLotRejected, Message: "lot not found"})

	// Collected state survives a failed submit so it can be corrected
	assert.Len(t, run.Assignments, 1)
	assert.Len(t, run.Rejections, 1)
	assert.Equal(t, "100", run.InspectedQty)
	assert.NoError(t, run.EnsureSubmittable(false))
}
