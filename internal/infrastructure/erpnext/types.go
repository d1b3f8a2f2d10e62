package erpnext

import (
	"encoding/json"
	"strings"
)

// listResponse is the envelope for /api/resource list queries
type listResponse struct {
	Data json.RawMessage `json:"data"`
}

// methodResponse is the envelope for /api/method RPC calls
type methodResponse struct {
	Message json.RawMessage `json:"message"`
}

// stockEntryDetailRow mirrors the Stock Entry Detail fields we select
type stockEntryDetailRow struct {
	Name           string `json:"name"`
	ItemCode       string `json:"item_code"`
	BatchNo        string `json:"batch_no"`
	SPPBatchNumber string `json:"spp_batch_number"`
}

// batchStockBalanceRow mirrors the Item Batch Stock Balance fields we select
type batchStockBalanceRow struct {
	Warehouse string  `json:"warehouse"`
	Qty       float64 `json:"qty"`
}

// employeeRow mirrors the Employee fields we select
type employeeRow struct {
	Name         string `json:"name"`
	EmployeeName string `json:"employee_name"`
}

// bomOperationRow is one operation row in the validate-lot response
type bomOperationRow struct {
	Operation string `json:"operation"`
}

// lotValidationMessage is the payload of the validate-lot call.
// status "failed" marks a business rejection; any other value passes.
type lotValidationMessage struct {
	Status            string            `json:"status"`
	Message           string            `json:"message"`
	BatchNo           string            `json:"batch_no"`
	SPPBatchNumber    string            `json:"spp_batch_number"`
	BOMNo             string            `json:"bom_no"`
	ItemCode          string            `json:"item_code"`
	ProductionItem    string            `json:"production_item"`
	FromWarehouse     string            `json:"from_warehouse"`
	QtyFromItemBatch  float64           `json:"qty_from_item_batch"`
	Name              string            `json:"name"`
	MouldingLotNumber string            `json:"moulding_lot_number"`
	BOMOperations     []bomOperationRow `json:"bom_operations"`
}

// taggingMessage is the payload of the create-tagging-record call
type taggingMessage struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Error   string `json:"error"`
}

// taggingResponse is the full create-tagging-record envelope. Frappe can
// report a failure on a 200 response with the reason only in the sibling
// _server_messages field.
type taggingResponse struct {
	Message        taggingMessage `json:"message"`
	ServerMessages string         `json:"_server_messages"`
}

// savedDocsResponse is the envelope of the document-save call
type savedDocsResponse struct {
	Docs []struct {
		Name string `json:"name"`
	} `json:"docs"`
}

// serverError mirrors the error body Frappe returns on non-2xx responses
type serverError struct {
	ExcType        string `json:"exc_type"`
	Message        string `json:"message"`
	ServerMessages string `json:"_server_messages"`
}

// extractServerMessage digs the human readable message out of a Frappe
// error body.
func extractServerMessage(body []byte) string {
	var se serverError
	if err := json.Unmarshal(body, &se); err != nil {
		return ""
	}

	if message := decodeServerMessages(se.ServerMessages); message != "" {
		return message
	}
	if se.Message != "" {
		return se.Message
	}
	return se.ExcType
}

// decodeServerMessages unpacks a _server_messages value: a JSON string
// holding a JSON array of JSON strings, each of which holds an object with
// a message field.
func decodeServerMessages(serverMessages string) string {
	if serverMessages == "" {
		return ""
	}

	var raw []string
	if err := json.Unmarshal([]byte(serverMessages), &raw); err != nil {
		return ""
	}

	messages := make([]string, 0, len(raw))
	for _, entry := range raw {
		var inner struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(entry), &inner); err == nil && inner.Message != "" {
			messages = append(messages, inner.Message)
		}
	}
	return strings.Join(messages, "; ")
}
