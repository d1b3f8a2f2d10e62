package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// InspectionSummary holds the derived quantities for an inspection run.
type InspectionSummary struct {
	InspectedQty    decimal.Decimal `json:"inspectedQty"`
	RejectedQty     decimal.Decimal `json:"rejectedQty"`
	AcceptedQty     decimal.Decimal `json:"acceptedQty"`
	RejectedPercent string          `json:"rejectedPercent"`
}

// parseQty parses a quantity string leniently: empty or malformed input
// counts as zero.
func parseQty(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ComputeSummary derives accepted quantity and rejection percentage from the
// inspected quantity and the recorded rejection entries. Accepted quantity
// never goes below zero. The percentage is rendered with two decimal places
// and a trailing percent sign, or "0%" when nothing was inspected.
func ComputeSummary(inspectedQty string, rejections []RejectionEntry) InspectionSummary {
	inspected := parseQty(inspectedQty)

	rejected := decimal.Zero
	for _, r := range rejections {
		rejected = rejected.Add(decimal.NewFromInt(int64(r.Qty)))
	}

	accepted := inspected.Sub(rejected)
	if accepted.IsNegative() {
		accepted = decimal.Zero
	}

	percent := "0%"
	if inspected.IsPositive() {
		ratio := rejected.Div(inspected).Mul(decimal.NewFromInt(100))
		percent = ratio.StringFixed(2) + "%"
	}

	return InspectionSummary{
		InspectedQty:    inspected,
		RejectedQty:     rejected,
		AcceptedQty:     accepted,
		RejectedPercent: percent,
	}
}
