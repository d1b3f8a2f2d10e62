package application

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyyanarr/spp/internal/domain"
	apperrors "github.com/iyyanarr/spp/pkg/errors"
	"github.com/iyyanarr/spp/pkg/logging"
)

type fakeGateway struct {
	stockEntry    *domain.StockEntryDetail
	stockEntryErr error
	balances      []domain.BatchStockBalance
	balancesErr   error
	employees         map[string]*domain.Employee
	findEmployeeCalls int
	validation        *domain.LotValidation
	validationErr     error

	taggings    []*domain.ResourceTagging
	taggingErr  map[string]error
	inspections []*domain.InspectionEntry
	inspectErr  error
}

func (f *fakeGateway) FindFinishedStockEntry(ctx context.Context, lotNumber string) (*domain.StockEntryDetail, error) {
	return f.stockEntry, f.stockEntryErr
}

func (f *fakeGateway) FindBatchStockBalances(ctx context.Context, itemCode, batchNo string) ([]domain.BatchStockBalance, error) {
	return f.balances, f.balancesErr
}

func (f *fakeGateway) FindEmployee(ctx context.Context, barcode string) (*domain.Employee, error) {
	f.findEmployeeCalls++
	return f.employees[barcode], nil
}

func (f *fakeGateway) ValidateLot(ctx context.Context, lotNumber string) (*domain.LotValidation, error) {
	return f.validation, f.validationErr
}

func (f *fakeGateway) CreateResourceTagging(ctx context.Context, tagging *domain.ResourceTagging) (string, error) {
	if err, ok := f.taggingErr[tagging.OperationType]; ok {
		return "", err
	}
	f.taggings = append(f.taggings, tagging)
	return fmt.Sprintf("LRT-%04d", len(f.taggings)), nil
}

func (f *fakeGateway) CreateInspectionEntry(ctx context.Context, entry *domain.InspectionEntry) (string, error) {
	if f.inspectErr != nil {
		return "", f.inspectErr
	}
	f.inspections = append(f.inspections, entry)
	return "INSP-0001", nil
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		stockEntry: &domain.StockEntryDetail{
			Name:           "SED-001",
			ItemCode:       "ITEM-9",
			BatchNo:        "BATCH-7",
			SPPBatchNumber: "SPP-100",
		},
		balances: []domain.BatchStockBalance{
			{Warehouse: "Stores - A", Qty: 40},
			{Warehouse: "Stores - B", Qty: 100},
		},
		employees: map[string]*domain.Employee{
			"HR-EMP-00001": {ID: "HR-EMP-00001", Name: "Priya R", Barcode: "HR-EMP-00001"},
			"HR-EMP-00002": {ID: "HR-EMP-00002", Name: "Sam K", Barcode: "HR-EMP-00002"},
		},
		validation: &domain.LotValidation{
			Valid:          true,
			BatchNo:        "BATCH-7",
			SPPBatchNumber: "SPP-100",
			BOMNo:          "BOM-1",
			ItemCode:       "ITEM-9",
			ProductionItem: "ITEM-9",
			FromWarehouse:  "Stores - B",
			AvailableQty:   "100",
			JobCard:        "JC-5",
			Operations:     []string{"Post Curing", "OD Trimming"},
		},
		taggingErr: map[string]error{},
	}
}

func newTestService(gateway domain.LotGateway) *LotService {
	logger := logging.New(&logging.Config{
		Level:       logging.LevelError,
		ServiceName: "spp-test",
		Output:      io.Discard,
	})
	return NewLotService(DefaultConfig(), gateway, nil, nil, logger, nil)
}

func TestCreateAndGetRun(t *testing.T) {
	svc := newTestService(newFakeGateway())

	run, err := svc.CreateRun(context.Background(), "SPP-100")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "SPP-100", run.LotNumber)
	assert.Equal(t, domain.StateIdle, run.State)

	got, err := svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	_, err = svc.GetRun(context.Background(), "missing")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestCreateRunRequiresLotNumber(t *testing.T) {
	svc := newTestService(newFakeGateway())

	_, err := svc.CreateRun(context.Background(), "   ")
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationError, appErr.Code)
}

func TestResolveBatchPicksLargestBalance(t *testing.T) {
	gateway := newFakeGateway()
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	run, err := svc.ResolveBatch(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, run.Batch)
	assert.Equal(t, "BATCH-7", run.Batch.BatchNo)
	assert.Equal(t, "ITEM-9", run.Batch.ItemCode)
	assert.Equal(t, "Stores - B", run.Batch.Warehouse)
	assert.Equal(t, "100", run.Batch.Qty)
}

func TestResolveBatchUnknownLot(t *testing.T) {
	gateway := newFakeGateway()
	gateway.stockEntry = nil
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-404")
	_, err := svc.ResolveBatch(context.Background(), run.ID)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeLotValidationFailed, appErr.Code)

	got, _ := svc.GetRun(context.Background(), run.ID)
	assert.Nil(t, got.Batch)
}

func TestResolveBatchFailureClearsPreviousContext(t *testing.T) {
	gateway := newFakeGateway()
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ResolveBatch(context.Background(), run.ID)
	require.NoError(t, err)

	gateway.stockEntryErr = apperrors.ErrServiceUnavailable("erpnext")
	_, err = svc.ResolveBatch(context.Background(), run.ID)
	require.Error(t, err)

	got, _ := svc.GetRun(context.Background(), run.ID)
	assert.Nil(t, got.Batch)
}

func TestResolveBatchBalanceLookupFailureIsNonFatal(t *testing.T) {
	gateway := newFakeGateway()
	gateway.balancesErr = apperrors.ErrServiceUnavailable("erpnext")
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	run, err := svc.ResolveBatch(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, run.Batch)
	assert.Equal(t, "BATCH-7", run.Batch.BatchNo)
	assert.Equal(t, "", run.Batch.Warehouse)
	assert.Equal(t, "0", run.Batch.Qty)
}

func TestScanOperation(t *testing.T) {
	gateway := newFakeGateway()
	svc := newTestService(gateway)
	run, _ := svc.CreateRun(context.Background(), "SPP-100")

	assignment, err := svc.ScanOperation(context.Background(), run.ID, "PC-1")
	require.NoError(t, err)
	assert.Equal(t, "Post Curing", assignment.Operation)
	assert.Equal(t, "HR-EMP-00001", assignment.EmployeeBarcode)
	assert.Equal(t, "Priya R", assignment.EmployeeName)
	assert.Equal(t, 1, assignment.ID)

	// a second scan for the same operation is rejected before any lookup
	_, err = svc.ScanOperation(context.Background(), run.ID, "PC-2")
	require.Error(t, err)
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeConflict, appErr.Code)
	assert.Equal(t, 1, gateway.findEmployeeCalls)

	// removing an assignment frees the operation for a rescan; ids restart
	// from one above the current maximum
	got, err := svc.RemoveAssignment(context.Background(), run.ID, assignment.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Assignments)

	rescanned, err := svc.ScanOperation(context.Background(), run.ID, "PC-2")
	require.NoError(t, err)
	assert.Equal(t, 1, rescanned.ID)
	assert.Equal(t, "Sam K", rescanned.EmployeeName)
}

func TestScanOperationUnknownEmployee(t *testing.T) {
	svc := newTestService(newFakeGateway())
	run, _ := svc.CreateRun(context.Background(), "SPP-100")

	_, err := svc.ScanOperation(context.Background(), run.ID, "OD-99999")
	require.Error(t, err)
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeValidationError, appErr.Code)
}

func TestRejectionLifecycle(t *testing.T) {
	svc := newTestService(newFakeGateway())
	run, _ := svc.CreateRun(context.Background(), "SPP-100")

	_, err := svc.AddRejection(context.Background(), run.ID, "TOOL MARK", 10)
	require.NoError(t, err)

	// the same defect type can be entered more than once
	_, err = svc.AddRejection(context.Background(), run.ID, "TOOL MARK", 3)
	require.NoError(t, err)

	_, err = svc.AddRejection(context.Background(), run.ID, "NOT A DEFECT", 1)
	require.Error(t, err)

	_, err = svc.AddRejection(context.Background(), run.ID, "BEND", 0)
	require.Error(t, err)

	// removal is positional; out of range positions are ignored
	_, err = svc.RemoveRejection(context.Background(), run.ID, 0)
	require.NoError(t, err)
	_, err = svc.RemoveRejection(context.Background(), run.ID, 7)
	require.NoError(t, err)

	got, _ := svc.GetRun(context.Background(), run.ID)
	require.Len(t, got.Rejections, 1)
	assert.Equal(t, "TOOL MARK", got.Rejections[0].DefectType)
	assert.Equal(t, 3, got.Rejections[0].Qty)
}

func TestSubmitPreconditions(t *testing.T) {
	svc := newTestService(newFakeGateway())
	run, _ := svc.CreateRun(context.Background(), "SPP-100")

	// no assignments yet
	_, err := svc.Submit(context.Background(), run.ID)
	require.Error(t, err)
}

func TestSubmitStrictModeRequiresInspectedQty(t *testing.T) {
	logger := logging.New(&logging.Config{
		Level:       logging.LevelError,
		ServiceName: "spp-test",
		Output:      io.Discard,
	})
	config := DefaultConfig()
	config.RequireInspectionQty = true
	svc := NewLotService(config, newFakeGateway(), nil, nil, logger, nil)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-1")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), run.ID)
	require.Error(t, err)
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeValidationError, appErr.Code)
}

func TestSubmitTreatsEmptyInspectedQtyAsZero(t *testing.T) {
	gateway := newFakeGateway()
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-1")
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Kind)

	require.Len(t, gateway.taggings, 1)
	assert.Equal(t, "100", gateway.taggings[0].QtyNos)

	require.Len(t, gateway.inspections, 1)
	assert.Equal(t, "100", gateway.inspections[0].VsPdirQty)
	assert.Equal(t, "0", gateway.inspections[0].TotalInspectedQtyNos)
	assert.Empty(t, gateway.inspections[0].Items)
}

func TestSubmitHappyPath(t *testing.T) {
	gateway := newFakeGateway()
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ResolveBatch(context.Background(), run.ID)
	require.NoError(t, err)

	_, err = svc.ScanOperation(context.Background(), run.ID, "PC-00001")
	require.NoError(t, err)
	_, err = svc.ScanOperation(context.Background(), run.ID, "OD-00002")
	require.NoError(t, err)

	_, err = svc.VerifyInspector(context.Background(), run.ID, "HR-EMP-00002")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "100")
	require.NoError(t, err)

	_, err = svc.AddRejection(context.Background(), run.ID, "TOOL MARK", 10)
	require.NoError(t, err)
	_, err = svc.AddRejection(context.Background(), run.ID, "BEND", 5)
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, "INSP-0001", outcome.DocumentID)
	require.NotNil(t, outcome.Summary)
	assert.Equal(t, "85", outcome.Summary.AcceptedQty.String())
	assert.Equal(t, "15", outcome.Summary.RejectedQty.String())
	assert.Equal(t, "15.00%", outcome.Summary.RejectedPercent)

	// results identify operators by employee code
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "HR-EMP-00001", outcome.Results[0].Employee)
	assert.Equal(t, "HR-EMP-00002", outcome.Results[1].Employee)

	// one tagging record per operation, in scan order
	require.Len(t, gateway.taggings, 2)
	first := gateway.taggings[0]
	assert.Equal(t, "Post Curing", first.OperationType)
	assert.Equal(t, "HR-EMP-00001", first.OperatorID)
	assert.Equal(t, "SPP-100", first.ScanLotNo)
	assert.Equal(t, "BATCH-7", first.BatchNo)
	assert.Equal(t, "ITEM-9", first.ProductRef)
	assert.Equal(t, "Post Curing,OD Trimming", first.Operations)
	assert.Equal(t, "100", first.QtyNos)
	assert.Equal(t, "85", first.QtyAfterRejectionNos)
	assert.Equal(t, "OD Trimming", gateway.taggings[1].OperationType)

	// inspection entry carries defect lines plus the accepted line
	require.Len(t, gateway.inspections, 1)
	entry := gateway.inspections[0]
	assert.Equal(t, "Final Visual Inspection", entry.InspectionType)
	assert.Equal(t, "100", entry.VsPdirQty)
	assert.Equal(t, "100", entry.TotalInspectedQtyNos)
	assert.Equal(t, "15", entry.TotalRejectedQty)
	assert.Equal(t, "85", entry.VsPdirQtyAfterReject)
	assert.Equal(t, "Sam K", entry.InspectorName)
	require.Len(t, entry.Items, 3)
	assert.Equal(t, "TOOL MARK", entry.Items[0].TypeOfDefect)
	assert.Equal(t, "10", entry.Items[0].RejectedQty)
	assert.Equal(t, "BEND", entry.Items[1].TypeOfDefect)
	assert.Equal(t, "ACCEPTED", entry.Items[2].TypeOfDefect)
	assert.Equal(t, "85", entry.Items[2].RejectedQty)

	// run is idle again with its state preserved
	got, _ := svc.GetRun(context.Background(), run.ID)
	assert.Equal(t, domain.StateIdle, got.State)
	assert.Len(t, got.Assignments, 2)
	require.NotNil(t, got.LastOutcome)
	assert.Equal(t, domain.OutcomeCompleted, got.LastOutcome.Kind)
}

func TestSubmitLotRejected(t *testing.T) {
	gateway := newFakeGateway()
	gateway.validation = &domain.LotValidation{Valid: false, Message: "lot already processed"}
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-1")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "50")
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeLotRejected, outcome.Kind)
	assert.Equal(t, "lot already processed", outcome.Message)
	assert.Empty(t, gateway.taggings)
	assert.Empty(t, gateway.inspections)

	// collected state survives for a corrected resubmit
	got, _ := svc.GetRun(context.Background(), run.ID)
	assert.Equal(t, domain.StateIdle, got.State)
	assert.Len(t, got.Assignments, 1)
}

func TestSubmitNetworkFailure(t *testing.T) {
	gateway := newFakeGateway()
	gateway.validationErr = apperrors.ErrServiceUnavailable("erpnext")
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-1")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "50")
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNetworkFailure, outcome.Kind)
}

func TestSubmitPartialTaggingFailure(t *testing.T) {
	gateway := newFakeGateway()
	gateway.taggingErr["OD Trimming"] = apperrors.ErrUpstreamRejected("tagging rejected")
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-00001")
	require.NoError(t, err)
	_, err = svc.ScanOperation(context.Background(), run.ID, "OD-00002")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "100")
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartialFailure, outcome.Kind)
	require.Len(t, outcome.Results, 2)
	assert.True(t, outcome.Results[0].Success)
	assert.False(t, outcome.Results[1].Success)
	assert.Contains(t, outcome.Results[1].Error, "tagging rejected")

	// inspection is not attempted after tagging failures
	assert.Empty(t, gateway.inspections)
}

func TestSubmitAllTaggingFailed(t *testing.T) {
	gateway := newFakeGateway()
	gateway.taggingErr["Post Curing"] = apperrors.ErrUpstreamRejected("no stock")
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-00001")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "100")
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTaggingFailed, outcome.Kind)
}

func TestSubmitInspectionFailure(t *testing.T) {
	gateway := newFakeGateway()
	gateway.inspectErr = apperrors.ErrUpstreamRejected("mandatory field missing")
	svc := newTestService(gateway)

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ScanOperation(context.Background(), run.ID, "PC-00001")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "100")
	require.NoError(t, err)

	outcome, err := svc.Submit(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInspectionFailed, outcome.Kind)
	assert.Contains(t, outcome.Message, "mandatory field missing")

	// tag records were still created
	require.Len(t, gateway.taggings, 1)
}

func TestVerifyInspectorRejectsBadBarcode(t *testing.T) {
	svc := newTestService(newFakeGateway())
	run, _ := svc.CreateRun(context.Background(), "SPP-100")

	_, err := svc.VerifyInspector(context.Background(), run.ID, "EMP-1")
	require.Error(t, err)
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeValidationError, appErr.Code)
}

func TestListDefectTypes(t *testing.T) {
	svc := newTestService(newFakeGateway())

	types := svc.ListDefectTypes()
	assert.Len(t, types, 24)
	assert.Contains(t, types, "TOOL MARK")
	assert.Contains(t, types, "STRETCH TEST")
}

func TestReportSnapshotsRun(t *testing.T) {
	svc := newTestService(newFakeGateway())

	run, _ := svc.CreateRun(context.Background(), "SPP-100")
	_, err := svc.ResolveBatch(context.Background(), run.ID)
	require.NoError(t, err)
	_, err = svc.ScanOperation(context.Background(), run.ID, "PC-00001")
	require.NoError(t, err)
	_, err = svc.VerifyInspector(context.Background(), run.ID, "HR-EMP-00002")
	require.NoError(t, err)
	_, err = svc.SetInspectedQty(context.Background(), run.ID, "100")
	require.NoError(t, err)
	_, err = svc.AddRejection(context.Background(), run.ID, "TOOL MARK", 10)
	require.NoError(t, err)

	report, err := svc.Report(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, report.RunID)
	assert.Equal(t, "SPP-100", report.LotNumber)
	assert.Equal(t, domain.StateIdle, report.State)
	require.NotNil(t, report.Batch)
	assert.Equal(t, "Stores - B", report.Batch.Warehouse)
	require.Len(t, report.Operations, 1)
	assert.Equal(t, "Post Curing", report.Operations[0].Operation)
	require.NotNil(t, report.Inspector)
	assert.Equal(t, "Sam K", report.Inspector.Name)
	require.Len(t, report.Rejections, 1)
	require.NotNil(t, report.Summary)
	assert.Equal(t, "100", report.Summary.InspectedQty)
	assert.Equal(t, "10", report.Summary.RejectedQty)
	assert.Equal(t, "90", report.Summary.AcceptedQty)
	assert.Equal(t, "10.00%", report.Summary.RejectedPercent)

	_, err = svc.Report(context.Background(), "missing")
	require.Error(t, err)
}
