package domain

import (
	"context"
	"time"
)

// StockEntryDetail is a finished-goods stock entry row matched by batch number
type StockEntryDetail struct {
	Name           string `json:"name"`
	ItemCode       string `json:"itemCode"`
	BatchNo        string `json:"batchNo"`
	SPPBatchNumber string `json:"sppBatchNumber"`
}

// BatchStockBalance is a warehouse-level quantity for an item batch
type BatchStockBalance struct {
	Warehouse string  `json:"warehouse"`
	Qty       float64 `json:"qty"`
}

// LotValidation is the ERP's verdict on a lot number plus the batch context
// it returns alongside. Context fields may be empty; callers fall back to
// locally resolved values.
type LotValidation struct {
	Valid             bool     `json:"valid"`
	Message           string   `json:"message,omitempty"`
	BatchNo           string   `json:"batchNo,omitempty"`
	SPPBatchNumber    string   `json:"sppBatchNumber,omitempty"`
	BOMNo             string   `json:"bomNo,omitempty"`
	ItemCode          string   `json:"itemCode,omitempty"`
	ProductionItem    string   `json:"productionItem,omitempty"`
	FromWarehouse     string   `json:"fromWarehouse,omitempty"`
	AvailableQty      string   `json:"availableQty,omitempty"`
	JobCard           string   `json:"jobCard,omitempty"`
	MouldingLotNumber string   `json:"mouldingLotNumber,omitempty"`
	Operations        []string `json:"operations,omitempty"`
}

// ResourceTagging is the payload for one per-operation tagging record
type ResourceTagging struct {
	ScanLotNo            string
	ScanOperator         string
	OperationType        string
	OperatorID           string
	OperatorName         string
	Operations           string
	BatchNo              string
	BOMNo                string
	ProductRef           string
	FromWarehouse        string
	ProductionItem       string
	AvailableQty         string
	QtyNos               string
	QtyAfterRejectionNos string
	JobCard              string
	SPPBatchNumber       string
	MouldingLotNumber    string
	PostingDate          string
}

// InspectionItem is one defect line on an inspection entry
type InspectionItem struct {
	TypeOfDefect  string
	RejectedQty   string
	ProductRefNo  string
	BatchNo       string
	LotNo         string
	InspectorCode string
	InspectorName string
	OperatorName  string
	RejectedQtyKg float64
	MachineNo     string
}

// InspectionEntry is the final visual inspection document
type InspectionEntry struct {
	PostingDate           string
	InspectionType        string
	LotNo                 string
	ScanProductionLot     string
	ProductRefNo          string
	SPPBatchNumber        string
	BatchNo               string
	InspectorName         string
	InspectorCode         string
	ScanInspector         string
	SourceWarehouse       string
	VsPdirQty             string
	TotalInspectedQtyNos  string
	TotalRejectedQty      string
	VsPdirQtyAfterReject  string
	Items                 []InspectionItem
}

// LotGateway is the outbound port to the ERP. Lookup methods return
// (nil, nil) when the ERP has no matching record; errors indicate
// transport or upstream failures.
type LotGateway interface {
	FindFinishedStockEntry(ctx context.Context, lotNumber string) (*StockEntryDetail, error)
	FindBatchStockBalances(ctx context.Context, itemCode, batchNo string) ([]BatchStockBalance, error)
	FindEmployee(ctx context.Context, barcode string) (*Employee, error)
	ValidateLot(ctx context.Context, lotNumber string) (*LotValidation, error)
	CreateResourceTagging(ctx context.Context, tagging *ResourceTagging) (string, error)
	CreateInspectionEntry(ctx context.Context, entry *InspectionEntry) (string, error)
}

// RunSummaryRecord is the persisted form of an inspection summary. The
// decimal quantities are stored as strings.
type RunSummaryRecord struct {
	InspectedQty    string `bson:"inspected_qty" json:"inspectedQty"`
	RejectedQty     string `bson:"rejected_qty" json:"rejectedQty"`
	AcceptedQty     string `bson:"accepted_qty" json:"acceptedQty"`
	RejectedPercent string `bson:"rejected_percent" json:"rejectedPercent"`
}

// Record converts a summary to its persisted form
func (s InspectionSummary) Record() *RunSummaryRecord {
	return &RunSummaryRecord{
		InspectedQty:    s.InspectedQty.String(),
		RejectedQty:     s.RejectedQty.String(),
		AcceptedQty:     s.AcceptedQty.String(),
		RejectedPercent: s.RejectedPercent,
	}
}

// RunRecord is the persisted trace of a completed submit attempt
type RunRecord struct {
	RunID      string             `bson:"run_id" json:"runId"`
	LotNumber  string             `bson:"lot_number" json:"lotNumber"`
	BatchNo    string             `bson:"batch_no,omitempty" json:"batchNo,omitempty"`
	Outcome    OutcomeKind        `bson:"outcome" json:"outcome"`
	Message    string             `bson:"message,omitempty" json:"message,omitempty"`
	DocumentID string             `bson:"document_id,omitempty" json:"documentId,omitempty"`
	Results    []ProcessingResult `bson:"results,omitempty" json:"results,omitempty"`
	Summary    *RunSummaryRecord  `bson:"summary,omitempty" json:"summary,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"createdAt"`
}

// RunHistoryRepository persists completed run outcomes for lookup
type RunHistoryRepository interface {
	Save(ctx context.Context, record *RunRecord) error
	FindByRunID(ctx context.Context, runID string) (*RunRecord, error)
	FindByLotNumber(ctx context.Context, lotNumber string, limit int) ([]*RunRecord, error)
	FindRecent(ctx context.Context, limit int) ([]*RunRecord, error)
}

// EventPublisher emits run lifecycle events
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, run *Run, outcome *RunOutcome)
}
