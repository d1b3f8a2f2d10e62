package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefectTypes(t *testing.T) {
	types := DefectTypes()
	assert.Len(t, types, 24)
	assert.Contains(t, types, "TOOL MARK")
	assert.Contains(t, types, "STRETCH TEST")
}

func TestDefectTypesReturnsACopy(t *testing.T) {
	types := DefectTypes()
	types[0] = "SCRATCHED OUT"

	assert.Contains(t, DefectTypes(), "TOOL MARK")
	assert.False(t, IsValidDefectType("SCRATCHED OUT"))
}

func TestIsValidDefectType(t *testing.T) {
	assert.True(t, IsValidDefectType("PIN HOLE"))
	assert.False(t, IsValidDefectType("pin hole"))
	assert.False(t, IsValidDefectType(""))
}
