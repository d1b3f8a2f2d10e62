package cloudevents

import (
	"time"

	"github.com/google/uuid"
)

// EventType constants for lot processing domain events
const (
	// Run lifecycle events
	RunStarted   = "spp.lot.run-started"
	RunCompleted = "spp.lot.run-completed"
	RunFailed    = "spp.lot.run-failed"

	// Sub lot events
	LotValidated       = "spp.lot.validated"
	TagRecordCreated   = "spp.lot.tag-record-created"
	TagRecordFailed    = "spp.lot.tag-record-failed"
	InspectionCreated  = "spp.lot.inspection-created"
	InspectionFailed   = "spp.lot.inspection-failed"
)

// Source constants for event sources
const (
	SourceLotProcessing = "/spp/lot-processing-service"
)

// LotCloudEvent represents a CloudEvents v1.0 compliant event for lot processing
type LotCloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// Lot processing extensions
	CorrelationID string `json:"sppcorrelationid,omitempty"`
	RunID         string `json:"spprunid,omitempty"`
	LotNumber     string `json:"spplotnumber,omitempty"`
	BatchNo       string `json:"sppbatchno,omitempty"`
}

// NewEvent creates a new LotCloudEvent with standard fields populated
func NewEvent(eventType, subject string, data interface{}) *LotCloudEvent {
	return &LotCloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          SourceLotProcessing,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// RunCompletedData represents the data payload for run completion events
type RunCompletedData struct {
	RunID        string    `json:"runId"`
	LotNumber    string    `json:"lotNumber"`
	BatchNo      string    `json:"batchNo,omitempty"`
	Outcome      string    `json:"outcome"`
	Message      string    `json:"message,omitempty"`
	DocumentID   string    `json:"documentId,omitempty"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	CompletedAt  time.Time `json:"completedAt"`
}

// TagRecordData represents the data payload for tag record events
type TagRecordData struct {
	RunID     string `json:"runId"`
	LotNumber string `json:"lotNumber"`
	Operation string `json:"operation"`
	Employee  string `json:"employee"`
	RecordID  string `json:"recordId,omitempty"`
	Error     string `json:"error,omitempty"`
}
