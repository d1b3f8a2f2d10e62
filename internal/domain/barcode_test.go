package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmployeeBarcode(t *testing.T) {
	tests := []struct {
		name    string
		barcode string
		wantErr bool
	}{
		{"valid barcode", "HR-EMP-00001", false},
		{"valid barcode high number", "HR-EMP-99999", false},
		{"too few digits", "HR-EMP-0001", true},
		{"too many digits", "HR-EMP-000001", true},
		{"wrong prefix", "HR-USR-00001", true},
		{"lowercase prefix", "hr-emp-00001", true},
		{"trailing garbage", "HR-EMP-00001X", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmployeeBarcode(tt.barcode)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEmployeeBarcode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseOperationScan(t *testing.T) {
	t.Run("known operation codes", func(t *testing.T) {
		tests := []struct {
			scan      string
			operation string
			barcode   string
		}{
			{"PC-00001", "Post Curing", "HR-EMP-00001"},
			{"OD-00002", "OD Trimming", "HR-EMP-00002"},
			{"ID-00345", "ID Trimming", "HR-EMP-00345"},
		}

		for _, tt := range tests {
			scan, err := ParseOperationScan(tt.scan)
			require.NoError(t, err)
			assert.Equal(t, tt.operation, scan.Operation)
			assert.Equal(t, tt.barcode, scan.EmployeeBarcode)
		}
	})

	t.Run("unmapped code passes through", func(t *testing.T) {
		scan, err := ParseOperationScan("XX-00007")
		require.NoError(t, err)
		assert.Equal(t, "XX", scan.Operation)
		assert.Equal(t, "HR-EMP-00007", scan.EmployeeBarcode)
	})

	t.Run("short employee number is zero padded", func(t *testing.T) {
		scan, err := ParseOperationScan("PC-42")
		require.NoError(t, err)
		assert.Equal(t, "HR-EMP-00042", scan.EmployeeBarcode)
	})

	t.Run("invalid scans", func(t *testing.T) {
		for _, s := range []string{"", "PC", "PC-", "-00001", "PC-12AB", "PC-123456"} {
			_, err := ParseOperationScan(s)
			assert.Error(t, err, "scan %q", s)
		}
	})
}
