package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RunState represents the lifecycle state of a lot processing run
type RunState string

const (
	StateIdle               RunState = "idle"
	StateValidatingLot      RunState = "validating_lot"
	StateCreatingTagRecords RunState = "creating_tag_records"
	StateCreatingInspection RunState = "creating_inspection"
)

// OutcomeKind classifies how a submit attempt ended
type OutcomeKind string

const (
	OutcomeCompleted        OutcomeKind = "completed"
	OutcomeLotRejected      OutcomeKind = "lot_rejected"
	OutcomePartialFailure   OutcomeKind = "partial_failure"
	OutcomeTaggingFailed    OutcomeKind = "tagging_failed"
	OutcomeInspectionFailed OutcomeKind = "inspection_failed"
	OutcomeNetworkFailure   OutcomeKind = "network_failure"
)

// Domain errors
var (
	ErrLotNumberRequired    = errors.New("lot number is required")
	ErrRunBusy              = errors.New("a submission is already in progress for this run")
	ErrNoAssignments        = errors.New("at least one operation assignment is required")
	ErrInspectedQtyRequired = errors.New("inspected quantity is required and must be greater than zero")
	ErrDuplicateOperation   = errors.New("operation already added to this run")
	ErrDuplicateAssignment  = errors.New("this operator is already assigned to this operation")
	ErrInvalidDefectType    = errors.New("defect type is not in the inspection vocabulary")
	ErrInvalidRejectionQty  = errors.New("rejection quantity must be a positive whole number")
)

// Employee identifies an ERP employee resolved from a barcode
type Employee struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Barcode string `json:"barcode"`
}

// OperationAssignment links one operation to the operator who performed it
type OperationAssignment struct {
	ID              int    `json:"id"`
	Scan            string `json:"scan"`
	OperationCode   string `json:"operationCode"`
	Operation       string `json:"operation"`
	EmployeeBarcode string `json:"employeeBarcode"`
	EmployeeID      string `json:"employeeId"`
	EmployeeName    string `json:"employeeName"`
}

// RejectionEntry records a rejected quantity against a defect type
type RejectionEntry struct {
	DefectType string `json:"defectType"`
	Qty        int    `json:"qty"`
}

// BatchInfo holds the batch context resolved from the ERP for a lot
type BatchInfo struct {
	BatchNo   string `json:"batchNo"`
	ItemCode  string `json:"itemCode"`
	Warehouse string `json:"warehouse"`
	Qty       string `json:"qty"`
}

// ProcessingResult captures the outcome of one tagging call
type ProcessingResult struct {
	Operation string `json:"operation"`
	Employee  string `json:"employee"`
	Success   bool   `json:"success"`
	RecordID  string `json:"recordId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunOutcome is the terminal result of a submit attempt
type RunOutcome struct {
	Kind        OutcomeKind        `json:"kind"`
	Message     string             `json:"message,omitempty"`
	Results     []ProcessingResult `json:"results,omitempty"`
	DocumentID  string             `json:"documentId,omitempty"`
	Summary     *InspectionSummary `json:"summary,omitempty"`
	CompletedAt time.Time          `json:"completedAt"`
}

// Run is the aggregate for one sub lot processing session. A run collects
// operation assignments and rejection entries against a scanned lot, then
// drives a single submit pipeline. A failed submit leaves the collected
// state intact so the operator can correct and resubmit.
type Run struct {
	ID            string                `json:"id"`
	LotNumber     string                `json:"lotNumber"`
	Batch         *BatchInfo            `json:"batch,omitempty"`
	Inspector     *Employee             `json:"inspector,omitempty"`
	Assignments   []OperationAssignment `json:"assignments"`
	Rejections    []RejectionEntry      `json:"rejections"`
	InspectedQty  string                `json:"inspectedQty"`
	State         RunState              `json:"state"`
	Progress      int                   `json:"progress"`
	StatusMessage string                `json:"statusMessage,omitempty"`
	LastOutcome   *RunOutcome           `json:"lastOutcome,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// NewRun creates a run for the given lot number
func NewRun(lotNumber string) (*Run, error) {
	if lotNumber == "" {
		return nil, ErrLotNumberRequired
	}

	now := time.Now().UTC()
	return &Run{
		ID:          uuid.New().String(),
		LotNumber:   lotNumber,
		Assignments: []OperationAssignment{},
		Rejections:  []RejectionEntry{},
		State:       StateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (r *Run) touch() {
	r.UpdatedAt = time.Now().UTC()
}

// SetBatch records the resolved batch context
func (r *Run) SetBatch(batch BatchInfo) {
	r.Batch = &batch
	r.touch()
}

// ClearBatch drops the resolved batch context after a failed lookup
func (r *Run) ClearBatch() {
	r.Batch = nil
	r.touch()
}

// SetInspector records the verified inspector
func (r *Run) SetInspector(inspector Employee) {
	r.Inspector = &inspector
	r.touch()
}

// SetInspectedQty records the total inspected quantity as entered
func (r *Run) SetInspectedQty(qty string) {
	r.InspectedQty = qty
	r.touch()
}

// CheckAssignable checks whether an operation/operator pair can be added.
// The same operation cannot be added twice, and the same operator cannot be
// assigned twice to one operation. Operation uniqueness is checked first.
// Callers run this before any lookup work for the pair.
func (r *Run) CheckAssignable(operation, employeeBarcode string) error {
	for _, existing := range r.Assignments {
		if existing.Operation == operation {
			if existing.EmployeeBarcode == employeeBarcode {
				return fmt.Errorf("%w: %s / %s", ErrDuplicateAssignment, operation, employeeBarcode)
			}
			return fmt.Errorf("%w: %s", ErrDuplicateOperation, operation)
		}
	}
	return nil
}

// AddAssignment adds an operation assignment after re-running the duplicate
// checks. The assignment gets a run-local id one above the current maximum.
func (r *Run) AddAssignment(a OperationAssignment) (*OperationAssignment, error) {
	if err := r.CheckAssignable(a.Operation, a.EmployeeBarcode); err != nil {
		return nil, err
	}

	maxID := 0
	for _, existing := range r.Assignments {
		if existing.ID > maxID {
			maxID = existing.ID
		}
	}

	a.ID = maxID + 1
	r.Assignments = append(r.Assignments, a)
	r.touch()
	return &a, nil
}

// RemoveAssignment removes an operation assignment by id. Removing an
// absent id is not an error.
func (r *Run) RemoveAssignment(id int) {
	for i, a := range r.Assignments {
		if a.ID == id {
			r.Assignments = append(r.Assignments[:i], r.Assignments[i+1:]...)
			r.touch()
			return
		}
	}
}

// AddRejection appends a rejected quantity for a defect type
func (r *Run) AddRejection(defectType string, qty int) error {
	if !IsValidDefectType(defectType) {
		return fmt.Errorf("%w: %s", ErrInvalidDefectType, defectType)
	}
	if qty <= 0 {
		return ErrInvalidRejectionQty
	}

	r.Rejections = append(r.Rejections, RejectionEntry{DefectType: defectType, Qty: qty})
	r.touch()
	return nil
}

// RemoveRejection removes the rejection entry at the given position.
// Out-of-range positions are ignored.
func (r *Run) RemoveRejection(index int) {
	if index < 0 || index >= len(r.Rejections) {
		return
	}
	r.Rejections = append(r.Rejections[:index], r.Rejections[index+1:]...)
	r.touch()
}

// OperationNames returns the operation names in scan order
func (r *Run) OperationNames() []string {
	names := make([]string, 0, len(r.Assignments))
	for _, a := range r.Assignments {
		names = append(names, a.Operation)
	}
	return names
}

// Summary computes the derived inspection quantities for the run
func (r *Run) Summary() InspectionSummary {
	return ComputeSummary(r.InspectedQty, r.Rejections)
}

// EnsureSubmittable checks the submit preconditions. When requireQty is
// set, the inspected quantity must parse to a positive number.
func (r *Run) EnsureSubmittable(requireQty bool) error {
	if r.State != StateIdle {
		return ErrRunBusy
	}
	if r.LotNumber == "" {
		return ErrLotNumberRequired
	}
	if len(r.Assignments) == 0 {
		return ErrNoAssignments
	}
	if requireQty && !parseQty(r.InspectedQty).IsPositive() {
		return ErrInspectedQtyRequired
	}
	return nil
}

// BeginValidation moves the run into the lot validation phase
func (r *Run) BeginValidation() error {
	if r.State != StateIdle {
		return ErrRunBusy
	}
	r.State = StateValidatingLot
	r.Progress = 0
	r.StatusMessage = "validating lot " + r.LotNumber
	r.touch()
	return nil
}

// BeginTagging moves the run into the tag record creation phase
func (r *Run) BeginTagging() {
	r.State = StateCreatingTagRecords
	r.Progress = 0
	r.StatusMessage = "creating tag records"
	r.touch()
}

// StartTagStep announces step k of n before its tagging call runs
func (r *Run) StartTagStep(k, n int, operation string) {
	r.StatusMessage = fmt.Sprintf("processing %d of %d: %s", k, n, operation)
	r.touch()
}

// FinishTagStep updates progress after k of n tagging calls completed
func (r *Run) FinishTagStep(k, n int) {
	if n > 0 {
		r.Progress = int(math.Round(float64(k) / float64(n) * 100))
	}
	r.touch()
}

// BeginInspection moves the run into the inspection creation phase
func (r *Run) BeginInspection() {
	r.State = StateCreatingInspection
	r.StatusMessage = "creating inspection entry"
	r.touch()
}

// Finish records the terminal outcome of a submit attempt and returns the
// run to idle so it can be corrected and resubmitted.
func (r *Run) Finish(outcome RunOutcome) {
	outcome.CompletedAt = time.Now().UTC()
	r.LastOutcome = &outcome
	r.State = StateIdle
	r.Progress = 0
	r.StatusMessage = ""
	r.touch()
}
