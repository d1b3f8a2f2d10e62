package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iyyanarr/spp/internal/domain"
	apperrors "github.com/iyyanarr/spp/pkg/errors"
	"github.com/iyyanarr/spp/pkg/logging"
	"github.com/iyyanarr/spp/pkg/resilience"
)

// Config holds service level configuration
type Config struct {
	// RequireInspectionQty gates submit on a positive inspected quantity.
	// Off by default; an empty quantity is treated as zero.
	RequireInspectionQty bool
	// HistorySaveTimeout bounds the background persistence of run outcomes
	HistorySaveTimeout time.Duration
}

// DefaultConfig returns the default service configuration
func DefaultConfig() *Config {
	return &Config{
		RequireInspectionQty: false,
		HistorySaveTimeout:   10 * time.Second,
	}
}

// MetricsRecorder receives business metrics from the service
type MetricsRecorder interface {
	RecordRunStarted()
	RecordRunCompleted(outcome string, duration time.Duration)
	RecordTagRecordCreated(operation string, success bool)
	RecordInspectionEntryCreated(success bool)
	RecordRejection(defectType string, qty int)
}

// LotService orchestrates sub lot processing runs. Runs live in memory for
// the duration of a session; only terminal outcomes are persisted. All
// methods are safe for concurrent use.
type LotService struct {
	mu      sync.RWMutex
	runs    map[string]*domain.Run
	config  *Config
	gateway domain.LotGateway
	history domain.RunHistoryRepository
	events  domain.EventPublisher
	logger  *logging.Logger
	metrics MetricsRecorder
}

// NewLotService creates a lot processing service. History, events and
// metrics may be nil.
func NewLotService(config *Config, gateway domain.LotGateway, history domain.RunHistoryRepository, events domain.EventPublisher, logger *logging.Logger, metrics MetricsRecorder) *LotService {
	if config == nil {
		config = DefaultConfig()
	}
	return &LotService{
		runs:    make(map[string]*domain.Run),
		config:  config,
		gateway: gateway,
		history: history,
		events:  events,
		logger:  logger.WithComponent("lot-service"),
		metrics: metrics,
	}
}

// CreateRun starts a new processing run for a lot number
func (s *LotService) CreateRun(ctx context.Context, lotNumber string) (*domain.Run, error) {
	run, err := domain.NewRun(strings.TrimSpace(lotNumber))
	if err != nil {
		return nil, apperrors.MapDomainError(err)
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRunStarted()
	}
	s.logger.Info("Run created", "runId", run.ID, "lotNumber", run.LotNumber)

	return run, nil
}

// GetRun returns a run by ID
func (s *LotService) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, apperrors.ErrNotFoundWithID("run", runID)
	}
	return run, nil
}

// ResolveBatch looks up the batch context for the run's lot number. The
// finished stock entry must exist; the warehouse balance lookup is best
// effort and falls back to an empty warehouse with zero quantity.
func (s *LotService) ResolveBatch(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	detail, err := s.gateway.FindFinishedStockEntry(ctx, run.LotNumber)
	if err != nil {
		s.mu.Lock()
		run.ClearBatch()
		s.mu.Unlock()
		return nil, err
	}
	if detail == nil {
		s.mu.Lock()
		run.ClearBatch()
		s.mu.Unlock()
		return nil, apperrors.ErrLotValidationFailed(run.LotNumber, "no finished stock entry matches this lot number")
	}

	batch := domain.BatchInfo{
		BatchNo:   detail.BatchNo,
		ItemCode:  detail.ItemCode,
		Warehouse: "",
		Qty:       "0",
	}

	balances, err := s.gateway.FindBatchStockBalances(ctx, detail.ItemCode, detail.BatchNo)
	if err != nil {
		s.logger.WithError(err).Warn("Batch stock balance lookup failed",
			"runId", run.ID,
			"batchNo", detail.BatchNo,
		)
	} else {
		best := -1.0
		for _, balance := range balances {
			if balance.Qty > best {
				best = balance.Qty
				batch.Warehouse = balance.Warehouse
				batch.Qty = strconv.FormatFloat(balance.Qty, 'f', -1, 64)
			}
		}
	}

	s.mu.Lock()
	run.SetBatch(batch)
	s.mu.Unlock()

	return run, nil
}

// ValidateEmployeeBarcode checks a barcode against the employee format
func (s *LotService) ValidateEmployeeBarcode(barcode string) error {
	if err := domain.ValidateEmployeeBarcode(barcode); err != nil {
		return apperrors.ErrValidation(err.Error()).WithDetail("barcode", barcode)
	}
	return nil
}

// ScanOperation parses an operation scan, resolves its operator against the
// ERP and adds the assignment to the run.
func (s *LotService) ScanOperation(ctx context.Context, runID, scan string) (*domain.OperationAssignment, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseOperationScan(strings.TrimSpace(scan))
	if err != nil {
		return nil, apperrors.ErrValidation(err.Error()).WithDetail("scan", scan)
	}

	// duplicate scans are rejected before the employee lookup runs
	s.mu.RLock()
	err = run.CheckAssignable(parsed.Operation, parsed.EmployeeBarcode)
	s.mu.RUnlock()
	if err != nil {
		return nil, apperrors.ErrConflict(err.Error())
	}

	employee, err := s.gateway.FindEmployee(ctx, parsed.EmployeeBarcode)
	if err != nil {
		return nil, err
	}
	if employee == nil {
		return nil, apperrors.ErrValidation("no employee matches the scanned barcode").
			WithDetail("barcode", parsed.EmployeeBarcode)
	}

	s.mu.Lock()
	assignment, err := run.AddAssignment(domain.OperationAssignment{
		Scan:            parsed.Raw,
		OperationCode:   parsed.Code,
		Operation:       parsed.Operation,
		EmployeeBarcode: employee.Barcode,
		EmployeeID:      employee.ID,
		EmployeeName:    employee.Name,
	})
	s.mu.Unlock()

	if err != nil {
		return nil, apperrors.ErrConflict(err.Error())
	}

	return assignment, nil
}

// RemoveAssignment removes an operation assignment from the run. Removing
// an ID that is not present is not an error.
func (s *LotService) RemoveAssignment(ctx context.Context, runID string, assignmentID int) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	run.RemoveAssignment(assignmentID)
	s.mu.Unlock()

	return run, nil
}

// AddRejection records a rejected quantity for a defect type
func (s *LotService) AddRejection(ctx context.Context, runID, defectType string, qty int) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	err = run.AddRejection(defectType, qty)
	s.mu.Unlock()

	if err != nil {
		return nil, apperrors.ErrValidation(err.Error()).WithDetail("defectType", defectType)
	}

	if s.metrics != nil {
		s.metrics.RecordRejection(defectType, qty)
	}
	return run, nil
}

// RemoveRejection removes the rejection entry at a position in the list.
// Out of range positions are ignored.
func (s *LotService) RemoveRejection(ctx context.Context, runID string, index int) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	run.RemoveRejection(index)
	s.mu.Unlock()

	return run, nil
}

// VerifyInspector resolves the inspector from a scanned barcode and records
// it on the run.
func (s *LotService) VerifyInspector(ctx context.Context, runID, barcode string) (*domain.Employee, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	barcode = strings.TrimSpace(barcode)
	if err := domain.ValidateEmployeeBarcode(barcode); err != nil {
		return nil, apperrors.ErrValidation(err.Error()).WithDetail("barcode", barcode)
	}

	employee, err := s.gateway.FindEmployee(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if employee == nil {
		return nil, apperrors.ErrValidation("no employee matches the scanned barcode").
			WithDetail("barcode", barcode)
	}

	s.mu.Lock()
	run.SetInspector(*employee)
	s.mu.Unlock()

	return employee, nil
}

// SetInspectedQty records the total inspected quantity
func (s *LotService) SetInspectedQty(ctx context.Context, runID, qty string) (*domain.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	run.SetInspectedQty(strings.TrimSpace(qty))
	s.mu.Unlock()

	return run, nil
}

// ListDefectTypes returns the inspection defect vocabulary
func (s *LotService) ListDefectTypes() []string {
	return domain.DefectTypes()
}

// RunReport is a display ready snapshot of a run: the collected state plus
// the live summary across rejections and inspected quantity.
type RunReport struct {
	RunID         string                       `json:"runId"`
	LotNumber     string                       `json:"lotNumber"`
	State         domain.RunState              `json:"state"`
	Progress      int                          `json:"progress"`
	StatusMessage string                       `json:"statusMessage,omitempty"`
	Batch         *domain.BatchInfo            `json:"batch,omitempty"`
	Operations    []domain.OperationAssignment `json:"operations"`
	Inspector     *domain.Employee             `json:"inspector,omitempty"`
	InspectedQty  string                       `json:"inspectedQty"`
	Rejections    []domain.RejectionEntry      `json:"rejections"`
	Summary       *domain.RunSummaryRecord     `json:"summary"`
	LastOutcome   *domain.RunOutcome           `json:"lastOutcome,omitempty"`
	CreatedAt     time.Time                    `json:"createdAt"`
	UpdatedAt     time.Time                    `json:"updatedAt"`
}

// Report assembles the report for a run
func (s *LotService) Report(ctx context.Context, runID string) (*RunReport, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &RunReport{
		RunID:         run.ID,
		LotNumber:     run.LotNumber,
		State:         run.State,
		Progress:      run.Progress,
		StatusMessage: run.StatusMessage,
		InspectedQty:  run.InspectedQty,
		Operations:    make([]domain.OperationAssignment, len(run.Assignments)),
		Rejections:    make([]domain.RejectionEntry, len(run.Rejections)),
		LastOutcome:   run.LastOutcome,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
	copy(report.Operations, run.Assignments)
	copy(report.Rejections, run.Rejections)
	if run.Batch != nil {
		batch := *run.Batch
		report.Batch = &batch
	}
	if run.Inspector != nil {
		inspector := *run.Inspector
		report.Inspector = &inspector
	}
	summary := run.Summary()
	report.Summary = summary.Record()

	return report, nil
}

// Submit drives the full submit pipeline: lot validation, one tagging
// record per operation, then the inspection entry. The pipeline stops at
// the first phase failure; tagging failures for individual operations do
// not stop the remaining operations. The outcome is always recorded on the
// run, and the error return is reserved for precondition violations.
func (s *LotService) Submit(ctx context.Context, runID string) (*domain.RunOutcome, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := run.EnsureSubmittable(s.config.RequireInspectionQty); err != nil {
		s.mu.Unlock()
		if errors.Is(err, domain.ErrRunBusy) {
			return nil, apperrors.ErrRunConflict(run.ID, err.Error())
		}
		return nil, apperrors.ErrValidation(err.Error())
	}
	if err := run.BeginValidation(); err != nil {
		s.mu.Unlock()
		return nil, apperrors.ErrRunConflict(run.ID, err.Error())
	}
	s.mu.Unlock()

	ctx = logging.ContextWithRunID(ctx, run.ID)
	started := time.Now()

	outcome := s.runPipeline(ctx, run)

	s.mu.Lock()
	run.Finish(*outcome)
	outcome = run.LastOutcome
	s.mu.Unlock()

	s.recordOutcome(ctx, run, outcome, time.Since(started))
	return outcome, nil
}

func (s *LotService) runPipeline(ctx context.Context, run *domain.Run) *domain.RunOutcome {
	validation, err := s.gateway.ValidateLot(ctx, run.LotNumber)
	if err != nil {
		if isNetworkFailure(err) {
			return &domain.RunOutcome{
				Kind:    domain.OutcomeNetworkFailure,
				Message: "lot validation could not reach the ERP: " + err.Error(),
			}
		}
		return &domain.RunOutcome{
			Kind:    domain.OutcomeLotRejected,
			Message: err.Error(),
		}
	}
	if !validation.Valid {
		message := validation.Message
		if message == "" {
			message = "the ERP rejected this lot number"
		}
		return &domain.RunOutcome{
			Kind:    domain.OutcomeLotRejected,
			Message: message,
		}
	}

	s.mu.Lock()
	run.BeginTagging()
	batch := s.mergeBatchContext(run, validation)
	summary := run.Summary()
	assignments := make([]domain.OperationAssignment, len(run.Assignments))
	copy(assignments, run.Assignments)
	s.mu.Unlock()

	postingDate := time.Now().Format("2006-01-02")
	operationList := strings.Join(validation.Operations, ",")
	if operationList == "" {
		operationNames := make([]string, 0, len(assignments))
		for _, a := range assignments {
			operationNames = append(operationNames, a.Operation)
		}
		operationList = strings.Join(operationNames, ",")
	}

	results := make([]domain.ProcessingResult, 0, len(assignments))
	failed := 0
	for i, assignment := range assignments {
		s.mu.Lock()
		run.StartTagStep(i+1, len(assignments), assignment.Operation)
		s.mu.Unlock()

		recordID, err := s.gateway.CreateResourceTagging(ctx, &domain.ResourceTagging{
			ScanLotNo:            run.LotNumber,
			ScanOperator:         assignment.EmployeeBarcode,
			OperationType:        assignment.Operation,
			OperatorID:           assignment.EmployeeID,
			OperatorName:         assignment.EmployeeName,
			Operations:           operationList,
			BatchNo:              batch.batchNo,
			BOMNo:                validation.BOMNo,
			ProductRef:           batch.productRef,
			FromWarehouse:        batch.warehouse,
			ProductionItem:       validation.ProductionItem,
			AvailableQty:         batch.availableQty,
			QtyNos:               batch.availableQty,
			QtyAfterRejectionNos: summary.AcceptedQty.String(),
			JobCard:              validation.JobCard,
			SPPBatchNumber:       run.LotNumber,
			MouldingLotNumber:    validation.MouldingLotNumber,
			PostingDate:          postingDate,
		})

		result := domain.ProcessingResult{
			Operation: assignment.Operation,
			Employee:  assignment.EmployeeBarcode,
			Success:   err == nil,
			RecordID:  recordID,
		}
		if err != nil {
			failed++
			result.Error = err.Error()
		}
		results = append(results, result)

		s.mu.Lock()
		run.FinishTagStep(i+1, len(assignments))
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordTagRecordCreated(assignment.Operation, err == nil)
		}
	}

	if failed == len(assignments) {
		return &domain.RunOutcome{
			Kind:    domain.OutcomeTaggingFailed,
			Message: "all tagging records failed",
			Results: results,
		}
	}
	if failed > 0 {
		return &domain.RunOutcome{
			Kind:    domain.OutcomePartialFailure,
			Message: fmt.Sprintf("tagging completed with failures: %d succeeded, %d failed", len(assignments)-failed, failed),
			Results: results,
		}
	}

	s.mu.Lock()
	run.BeginInspection()
	s.mu.Unlock()

	entry := s.buildInspectionEntry(run, batch, summary, postingDate)
	documentID, err := s.gateway.CreateInspectionEntry(ctx, entry)

	if s.metrics != nil {
		s.metrics.RecordInspectionEntryCreated(err == nil)
	}

	if err != nil {
		kind := domain.OutcomeInspectionFailed
		if isNetworkFailure(err) {
			kind = domain.OutcomeNetworkFailure
		}
		return &domain.RunOutcome{
			Kind:    kind,
			Message: "inspection entry creation failed: " + err.Error(),
			Results: results,
			Summary: &summary,
		}
	}

	return &domain.RunOutcome{
		Kind:       domain.OutcomeCompleted,
		Message:    "lot processed",
		Results:    results,
		DocumentID: documentID,
		Summary:    &summary,
	}
}

// batchContext is the batch information used by tagging and inspection,
// from the validation response with the locally resolved batch as fallback.
type batchContext struct {
	batchNo      string
	warehouse    string
	availableQty string
	productRef   string
}

func (s *LotService) mergeBatchContext(run *domain.Run, validation *domain.LotValidation) batchContext {
	merged := batchContext{
		batchNo:      validation.BatchNo,
		warehouse:    validation.FromWarehouse,
		availableQty: validation.AvailableQty,
		productRef:   validation.ItemCode,
	}

	if run.Batch != nil {
		if merged.batchNo == "" {
			merged.batchNo = run.Batch.BatchNo
		}
		if merged.warehouse == "" {
			merged.warehouse = run.Batch.Warehouse
		}
		if merged.availableQty == "" || merged.availableQty == "0" {
			merged.availableQty = run.Batch.Qty
		}
		if merged.productRef == "" {
			merged.productRef = run.Batch.ItemCode
		}
	}
	if merged.availableQty == "" {
		merged.availableQty = "0"
	}

	return merged
}

// buildInspectionEntry assembles the inspection document: one line per
// rejection entry plus an ACCEPTED line when any quantity passed.
func (s *LotService) buildInspectionEntry(run *domain.Run, batch batchContext, summary domain.InspectionSummary, postingDate string) *domain.InspectionEntry {
	inspectorCode := ""
	inspectorName := ""
	if run.Inspector != nil {
		inspectorCode = run.Inspector.Barcode
		inspectorName = run.Inspector.Name
	}

	items := make([]domain.InspectionItem, 0, len(run.Rejections)+1)
	for _, rejection := range run.Rejections {
		items = append(items, domain.InspectionItem{
			TypeOfDefect:  rejection.DefectType,
			RejectedQty:   fmt.Sprintf("%d", rejection.Qty),
			ProductRefNo:  batch.productRef,
			BatchNo:       batch.batchNo,
			LotNo:         run.LotNumber,
			InspectorCode: inspectorCode,
			InspectorName: inspectorName,
		})
	}
	if summary.AcceptedQty.IsPositive() {
		items = append(items, domain.InspectionItem{
			TypeOfDefect:  "ACCEPTED",
			RejectedQty:   summary.AcceptedQty.String(),
			ProductRefNo:  batch.productRef,
			BatchNo:       batch.batchNo,
			LotNo:         run.LotNumber,
			InspectorCode: inspectorCode,
			InspectorName: inspectorName,
		})
	}

	return &domain.InspectionEntry{
		PostingDate:          postingDate,
		InspectionType:       "Final Visual Inspection",
		LotNo:                run.LotNumber,
		ScanProductionLot:    run.LotNumber,
		ProductRefNo:         batch.productRef,
		SPPBatchNumber:       run.LotNumber,
		BatchNo:              batch.batchNo,
		InspectorName:        inspectorName,
		InspectorCode:        inspectorCode,
		ScanInspector:        inspectorCode,
		SourceWarehouse:      batch.warehouse,
		VsPdirQty:            batch.availableQty,
		TotalInspectedQtyNos: summary.InspectedQty.String(),
		TotalRejectedQty:     summary.RejectedQty.String(),
		VsPdirQtyAfterReject: summary.AcceptedQty.String(),
		Items:                items,
	}
}

func (s *LotService) recordOutcome(ctx context.Context, run *domain.Run, outcome *domain.RunOutcome, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordRunCompleted(string(outcome.Kind), duration)
	}
	s.logger.Event(ctx, "run.finished", map[string]any{
		"runId":     run.ID,
		"lotNumber": run.LotNumber,
		"outcome":   string(outcome.Kind),
	})

	if s.events != nil {
		s.events.PublishRunCompleted(ctx, run, outcome)
	}

	if s.history != nil {
		record := &domain.RunRecord{
			RunID:      run.ID,
			LotNumber:  run.LotNumber,
			Outcome:    outcome.Kind,
			Message:    outcome.Message,
			DocumentID: outcome.DocumentID,
			Results:    outcome.Results,
			CreatedAt:  outcome.CompletedAt,
		}
		if run.Batch != nil {
			record.BatchNo = run.Batch.BatchNo
		}
		if outcome.Summary != nil {
			record.Summary = outcome.Summary.Record()
		}

		timeout := s.config.HistorySaveTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := s.history.Save(saveCtx, record); err != nil {
				s.logger.WithError(err).Warn("Failed to persist run history", "runId", record.RunID)
			}
		}()
	}
}

// History returns the most recent persisted outcome for a run
func (s *LotService) History(ctx context.Context, runID string) (*domain.RunRecord, error) {
	if s.history == nil {
		return nil, apperrors.ErrServiceUnavailable("run history")
	}
	return s.history.FindByRunID(ctx, runID)
}

// RecentHistory returns recent persisted outcomes, newest first
func (s *LotService) RecentHistory(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if s.history == nil {
		return nil, apperrors.ErrServiceUnavailable("run history")
	}
	return s.history.FindRecent(ctx, limit)
}

// HistoryByLot returns persisted outcomes for a lot number, newest first
func (s *LotService) HistoryByLot(ctx context.Context, lotNumber string, limit int) ([]*domain.RunRecord, error) {
	if s.history == nil {
		return nil, apperrors.ErrServiceUnavailable("run history")
	}
	return s.history.FindByLotNumber(ctx, strings.TrimSpace(lotNumber), limit)
}

// isNetworkFailure reports whether an error reflects a transport problem
// rather than an upstream business rejection.
func isNetworkFailure(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Code == apperrors.CodeServiceUnavailable || appErr.Code == apperrors.CodeTimeout
	}
	return false
}
