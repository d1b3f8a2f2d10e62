package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Employee barcode format: HR-EMP- followed by exactly five digits.
var employeeBarcodeRegex = regexp.MustCompile(`^HR-EMP-\d{5}$`)

// ErrInvalidEmployeeBarcode is returned when a scanned barcode does not
// match the employee barcode format.
var ErrInvalidEmployeeBarcode = errors.New("invalid employee barcode: expected format HR-EMP-00000")

// operationCodes maps scan prefixes to operation names. Prefixes not in
// the map are carried through as-is.
var operationCodes = map[string]string{
	"PC": "Post Curing",
	"OD": "OD Trimming",
	"ID": "ID Trimming",
}

// ValidateEmployeeBarcode checks a scanned employee barcode.
func ValidateEmployeeBarcode(barcode string) error {
	if !employeeBarcodeRegex.MatchString(barcode) {
		return ErrInvalidEmployeeBarcode
	}
	return nil
}

// OperationScan is the decoded form of an operation barcode like "PC-00001":
// an operation code prefix and an employee number suffix.
type OperationScan struct {
	Raw             string
	Code            string
	Operation       string
	EmployeeBarcode string
}

// ParseOperationScan decodes an operation barcode. The prefix selects the
// operation, the numeric suffix identifies the operator and is expanded to
// a full employee barcode.
func ParseOperationScan(scan string) (*OperationScan, error) {
	scan = strings.TrimSpace(scan)
	if scan == "" {
		return nil, fmt.Errorf("operation scan is required")
	}

	idx := strings.Index(scan, "-")
	if idx <= 0 || idx == len(scan)-1 {
		return nil, fmt.Errorf("invalid operation scan %q: expected format PC-00001", scan)
	}

	code := scan[:idx]
	suffix := scan[idx+1:]

	for _, r := range suffix {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid operation scan %q: employee number must be numeric", scan)
		}
	}
	if len(suffix) > 5 {
		return nil, fmt.Errorf("invalid operation scan %q: employee number too long", scan)
	}

	operation, ok := operationCodes[strings.ToUpper(code)]
	if !ok {
		operation = code
	}

	barcode := "HR-EMP-" + strings.Repeat("0", 5-len(suffix)) + suffix

	return &OperationScan{
		Raw:             scan,
		Code:            strings.ToUpper(code),
		Operation:       operation,
		EmployeeBarcode: barcode,
	}, nil
}
