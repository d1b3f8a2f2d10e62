package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSummary(t *testing.T) {
	tests := []struct {
		name         string
		inspectedQty string
		rejections   []RejectionEntry
		wantAccepted string
		wantRejected string
		wantPercent  string
	}{
		{
			name:         "no rejections",
			inspectedQty: "100",
			rejections:   nil,
			wantAccepted: "100",
			wantRejected: "0",
			wantPercent:  "0.00%",
		},
		{
			name:         "two defect types",
			inspectedQty: "100",
			rejections: []RejectionEntry{
				{DefectType: "TOOL MARK", Qty: 10},
				{DefectType: "BEND", Qty: 5},
			},
			wantAccepted: "85",
			wantRejected: "15",
			wantPercent:  "15.00%",
		},
		{
			name:         "rejections exceed inspected clamps accepted at zero",
			inspectedQty: "10",
			rejections: []RejectionEntry{
				{DefectType: "PIN HOLE", Qty: 25},
			},
			wantAccepted: "0",
			wantRejected: "25",
			wantPercent:  "250.00%",
		},
		{
			name:         "empty inspected quantity",
			inspectedQty: "",
			rejections: []RejectionEntry{
				{DefectType: "BEND", Qty: 5},
			},
			wantAccepted: "0",
			wantRejected: "5",
			wantPercent:  "0%",
		},
		{
			name:         "malformed inspected quantity treated as zero",
			inspectedQty: "abc",
			rejections:   nil,
			wantAccepted: "0",
			wantRejected: "0",
			wantPercent:  "0%",
		},
		{
			name:         "fractional percentage rounds to two places",
			inspectedQty: "3",
			rejections: []RejectionEntry{
				{DefectType: "THREAD", Qty: 1},
			},
			wantAccepted: "2",
			wantRejected: "1",
			wantPercent:  "33.33%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := ComputeSummary(tt.inspectedQty, tt.rejections)
			assert.Equal(t, tt.wantAccepted, summary.AcceptedQty.String())
			assert.Equal(t, tt.wantRejected, summary.RejectedQty.String())
			assert.Equal(t, tt.wantPercent, summary.RejectedPercent)
		})
	}
}
