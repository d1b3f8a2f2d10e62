package domain

// defectTypes is the fixed vocabulary of visual inspection defects.
var defectTypes = []string{
	"TOOL MARK",
	"BONDING FAILURE",
	"THREAD",
	"OVER TRIM",
	"MOULD DAMAGE",
	"WOOD PARTICLE",
	"WASHER VISIBLE",
	"DISPRESS PROBLEM",
	"THK UNDERSIZE",
	"THK OVERSIZE",
	"ID UNDERSIZE",
	"ID OVERSIZE",
	"OD UNDERSIZE",
	"OD OVERSIZE",
	"IMPRESSION MARK",
	"WELD LINE",
	"BEND",
	"PIN HOLE",
	"BACKRIND",
	"BONDING BUBBLE",
	"PARTING LINE CUTMARK",
	"MOULD RUST",
	"STAIN ISSUE",
	"STRETCH TEST",
}

var defectTypeSet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(defectTypes))
	for _, d := range defectTypes {
		s[d] = struct{}{}
	}
	return s
}()

// DefectTypes returns the inspection defect vocabulary. The returned slice
// is a copy; callers cannot mutate the vocabulary.
func DefectTypes() []string {
	out := make([]string, len(defectTypes))
	copy(out, defectTypes)
	return out
}

// IsValidDefectType reports whether the given defect type belongs to the
// inspection vocabulary.
func IsValidDefectType(defectType string) bool {
	_, ok := defectTypeSet[defectType]
	return ok
}
