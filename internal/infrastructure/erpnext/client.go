package erpnext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iyyanarr/spp/internal/domain"
	apperrors "github.com/iyyanarr/spp/pkg/errors"
	"github.com/iyyanarr/spp/pkg/logging"
	"github.com/iyyanarr/spp/pkg/resilience"
)

// Config holds ERPNext connection configuration
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8000",
		Timeout: 30 * time.Second,
	}
}

// TokenProvider supplies the CSRF token attached to mutating calls.
// Session-cookie deployments need one; API key deployments can pass nil.
type TokenProvider interface {
	CSRFToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token
type StaticToken string

// CSRFToken returns the fixed token
func (t StaticToken) CSRFToken(context.Context) (string, error) {
	return string(t), nil
}

// MetricsRecorder receives per-call metrics
type MetricsRecorder interface {
	RecordERPCall(endpoint string, success bool, duration time.Duration)
}

// Client is the HTTP gateway to the ERPNext instance. It implements
// domain.LotGateway. Calls are not retried; failures surface to the caller.
type Client struct {
	config     *Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *logging.Logger
	metrics    MetricsRecorder
	tokens     TokenProvider
}

// NewClient creates a new ERPNext client
func NewClient(config *Config, logger *logging.Logger, breaker *resilience.CircuitBreaker, metrics MetricsRecorder, tokens TokenProvider) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		logger:  logger.WithComponent("erpnext"),
		metrics: metrics,
		tokens:  tokens,
	}
}

// doRequest performs an HTTP request through the circuit breaker and
// decodes the response envelope into result.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, result interface{}) error {
	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return apperrors.ErrInternal("failed to marshal request body").Wrap(err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	start := time.Now()
	execute := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, apperrors.ErrInternal("failed to create request").Wrap(err)
		}

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		if c.config.APIKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.config.APIKey, c.config.APISecret))
		}

		if c.tokens != nil && method != http.MethodGet {
			token, err := c.tokens.CSRFToken(ctx)
			if err != nil {
				return nil, apperrors.ErrInternal("failed to obtain CSRF token").Wrap(err)
			}
			if token != "" {
				req.Header.Set("X-Frappe-CSRF-Token", token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, apperrors.ErrServiceUnavailable("erpnext").Wrap(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperrors.ErrServiceUnavailable("erpnext").Wrap(err)
		}

		if resp.StatusCode >= 400 {
			message := extractServerMessage(respBody)
			if message == "" {
				message = fmt.Sprintf("erpnext returned status %d", resp.StatusCode)
			}
			if resp.StatusCode == http.StatusNotFound {
				return nil, apperrors.ErrNotFound("resource").WithDetail("path", path).Wrap(fmt.Errorf("%s", message))
			}
			return nil, apperrors.ErrUpstreamRejected(message).WithDetail("status", fmt.Sprintf("%d", resp.StatusCode))
		}

		return respBody, nil
	}

	raw, err := c.breaker.Execute(ctx, execute)
	duration := time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordERPCall(path, err == nil, duration)
	}
	c.logger.ERPCall(ctx, path, duration, err == nil)

	if err != nil {
		return err
	}

	respBody := raw.([]byte)
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperrors.ErrInternal("failed to unmarshal erpnext response").Wrap(err)
		}
	}

	return nil
}

// queryList runs a filtered /api/resource list query for a doctype
func (c *Client) queryList(ctx context.Context, doctype string, fields []string, filters [][]interface{}, out interface{}) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return apperrors.ErrInternal("failed to encode fields").Wrap(err)
	}
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return apperrors.ErrInternal("failed to encode filters").Wrap(err)
	}

	query := url.Values{}
	query.Set("fields", string(fieldsJSON))
	query.Set("filters", string(filtersJSON))
	query.Set("limit_page_length", "0")

	var envelope listResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/resource/"+url.PathEscape(doctype), query, nil, &envelope); err != nil {
		return err
	}

	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperrors.ErrInternal("failed to unmarshal list response").Wrap(err)
	}
	return nil
}

// callMethod invokes a whitelisted server method
func (c *Client) callMethod(ctx context.Context, method string, body interface{}, out interface{}) error {
	var envelope methodResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/method/"+method, nil, body, &envelope); err != nil {
		return err
	}

	if out != nil && len(envelope.Message) > 0 {
		if err := json.Unmarshal(envelope.Message, out); err != nil {
			return apperrors.ErrInternal("failed to unmarshal method response").Wrap(err)
		}
	}
	return nil
}

// HealthCheck verifies connectivity to the ERP
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/method/ping", nil, nil, nil)
}

// FindFinishedStockEntry looks up the finished-goods stock entry row for a
// lot number. Returns (nil, nil) when no row matches.
func (c *Client) FindFinishedStockEntry(ctx context.Context, lotNumber string) (*domain.StockEntryDetail, error) {
	var rows []stockEntryDetailRow
	err := c.queryList(ctx, "Stock Entry Detail",
		[]string{"name", "item_code", "batch_no", "spp_batch_number"},
		[][]interface{}{
			{"spp_batch_number", "=", lotNumber},
			{"item_group", "=", "Products"},
			{"is_finished_item", "=", 1},
		},
		&rows,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &domain.StockEntryDetail{
		Name:           row.Name,
		ItemCode:       row.ItemCode,
		BatchNo:        row.BatchNo,
		SPPBatchNumber: row.SPPBatchNumber,
	}, nil
}

// FindBatchStockBalances returns the warehouse quantities for an item batch
func (c *Client) FindBatchStockBalances(ctx context.Context, itemCode, batchNo string) ([]domain.BatchStockBalance, error) {
	var rows []batchStockBalanceRow
	err := c.queryList(ctx, "Item Batch Stock Balance",
		[]string{"warehouse", "qty"},
		[][]interface{}{
			{"item_code", "=", itemCode},
			{"batch_no", "=", batchNo},
		},
		&rows,
	)
	if err != nil {
		return nil, err
	}

	balances := make([]domain.BatchStockBalance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, domain.BatchStockBalance{
			Warehouse: row.Warehouse,
			Qty:       row.Qty,
		})
	}
	return balances, nil
}

// FindEmployee resolves an employee from a scanned barcode. Returns
// (nil, nil) when no employee matches.
func (c *Client) FindEmployee(ctx context.Context, barcode string) (*domain.Employee, error) {
	var rows []employeeRow
	err := c.queryList(ctx, "Employee",
		[]string{"name", "employee_name"},
		[][]interface{}{
			{"name", "=", barcode},
		},
		&rows,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &domain.Employee{
		ID:      row.Name,
		Name:    row.EmployeeName,
		Barcode: barcode,
	}, nil
}

// ValidateLot asks the ERP to validate a lot number. A business rejection
// comes back as Valid=false, not an error.
func (c *Client) ValidateLot(ctx context.Context, lotNumber string) (*domain.LotValidation, error) {
	body := map[string]interface{}{
		"barcode": lotNumber,
	}

	var msg lotValidationMessage
	if err := c.callMethod(ctx, "spp.api.validate_lot_number", body, &msg); err != nil {
		return nil, err
	}

	operations := make([]string, 0, len(msg.BOMOperations))
	for _, row := range msg.BOMOperations {
		operations = append(operations, row.Operation)
	}

	availableQty := ""
	if msg.QtyFromItemBatch != 0 {
		availableQty = strconv.FormatFloat(msg.QtyFromItemBatch, 'f', -1, 64)
	}

	validation := &domain.LotValidation{
		Valid:             msg.Status != "failed",
		Message:           msg.Message,
		BatchNo:           msg.BatchNo,
		SPPBatchNumber:    msg.SPPBatchNumber,
		BOMNo:             msg.BOMNo,
		ItemCode:          msg.ItemCode,
		ProductionItem:    msg.ProductionItem,
		FromWarehouse:     msg.FromWarehouse,
		AvailableQty:      availableQty,
		JobCard:           msg.Name,
		MouldingLotNumber: msg.MouldingLotNumber,
		Operations:        operations,
	}
	return validation, nil
}

// CreateResourceTagging creates one lot resource tagging record and
// returns its document name.
func (c *Client) CreateResourceTagging(ctx context.Context, tagging *domain.ResourceTagging) (string, error) {
	record := map[string]interface{}{
		"scan_lot_no":             tagging.ScanLotNo,
		"scan_operator":           tagging.ScanOperator,
		"operation_type":          tagging.OperationType,
		"operator_id":             tagging.OperatorID,
		"operator_name":           tagging.OperatorName,
		"operations":              tagging.Operations,
		"batch_no":                tagging.BatchNo,
		"bom_no":                  tagging.BOMNo,
		"product_ref":             tagging.ProductRef,
		"from_warehouse":          tagging.FromWarehouse,
		"production_item":         tagging.ProductionItem,
		"available_qty":           tagging.AvailableQty,
		"qtynos":                  tagging.QtyNos,
		"qty_after_rejection_nos": tagging.QtyAfterRejectionNos,
		"job_card":                tagging.JobCard,
		"spp_batch_number":        tagging.SPPBatchNumber,
		"moulding_lot_number":     tagging.MouldingLotNumber,
		"posting_date":            tagging.PostingDate,
	}

	var resp taggingResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/method/spp.api.create_lot_resource_tagging", nil, map[string]interface{}{"data": record}, &resp); err != nil {
		return "", err
	}
	if !resp.Message.Success {
		reason := resp.Message.Error
		if reason == "" {
			reason = decodeServerMessages(resp.ServerMessages)
		}
		if reason == "" {
			reason = "lot resource tagging was not accepted"
		}
		return "", apperrors.ErrUpstreamRejected(reason).WithDetail("operation", tagging.OperationType)
	}
	return resp.Message.Name, nil
}

// CreateInspectionEntry saves a Final Visual Inspection document and
// returns its name.
func (c *Client) CreateInspectionEntry(ctx context.Context, entry *domain.InspectionEntry) (string, error) {
	items := make([]map[string]interface{}, 0, len(entry.Items))
	for _, item := range entry.Items {
		items = append(items, map[string]interface{}{
			"type_of_defect":  item.TypeOfDefect,
			"rejected_qty":    item.RejectedQty,
			"product_ref_no":  item.ProductRefNo,
			"batch_no":        item.BatchNo,
			"lot_no":          item.LotNo,
			"inspector_code":  item.InspectorCode,
			"inspector_name":  item.InspectorName,
			"operator_name":   item.OperatorName,
			"rejected_qty_kg": item.RejectedQtyKg,
			"machine_no":      item.MachineNo,
		})
	}

	doc := map[string]interface{}{
		"doctype":                     "Inspection Entry",
		"posting_date":                entry.PostingDate,
		"inspection_type":             entry.InspectionType,
		"lot_no":                      entry.LotNo,
		"scan_production_lot":         entry.ScanProductionLot,
		"product_ref_no":              entry.ProductRefNo,
		"spp_batch_number":            entry.SPPBatchNumber,
		"batch_no":                    entry.BatchNo,
		"inspector_name":              entry.InspectorName,
		"inspector_code":              entry.InspectorCode,
		"scan_inspector":              entry.ScanInspector,
		"source_warehouse":            entry.SourceWarehouse,
		"vs_pdir_qty":                 entry.VsPdirQty,
		"total_inspected_qty_nos":     entry.TotalInspectedQtyNos,
		"total_rejected_qty":          entry.TotalRejectedQty,
		"vs_pdir_qty_after_rejection": entry.VsPdirQtyAfterReject,
		"items":                       items,
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", apperrors.ErrInternal("failed to marshal inspection document").Wrap(err)
	}

	body := map[string]interface{}{
		"doc":    string(docJSON),
		"action": "Save",
	}

	var saved savedDocsResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/method/frappe.desk.form.save.savedocs", nil, body, &saved); err != nil {
		return "", err
	}
	if len(saved.Docs) == 0 {
		return "", apperrors.ErrUpstreamRejected("inspection entry was not created")
	}
	return saved.Docs[0].Name, nil
}
