package labpattern

import (
	"strings"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/similarity"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// parameterAliases maps normalised report spellings to a canonical key.
var parameterAliases = map[string]string{
	"na":                     "sodium",
	"serum sodium":           "sodium",
	"sodium, serum":          "sodium",
	"k":                      "potassium",
	"serum potassium":        "potassium",
	"potassium, serum":       "potassium",
	"cl":                     "chloride",
	"hco3":                   "bicarbonate",
	"co2":                    "bicarbonate",
	"total co2":              "bicarbonate",
	"blood urea nitrogen":    "bun",
	"urea nitrogen":          "bun",
	"cr":                     "creatinine",
	"creat":                  "creatinine",
	"serum creatinine":       "creatinine",
	"bun/cr ratio":           "bun/creatinine ratio",
	"bun/creat ratio":        "bun/creatinine ratio",
	"bun:creatinine ratio":   "bun/creatinine ratio",
	"bun/creatinine":         "bun/creatinine ratio",
	"osmolality":             "serum osmolality",
	"serum osm":              "serum osmolality",
	"osmolality, serum":      "serum osmolality",
	"urine na":               "urine sodium",
	"sodium, urine":          "urine sodium",
	"urine osm":              "urine osmolality",
	"hgb":                    "hemoglobin",
	"hb":                     "hemoglobin",
	"haemoglobin":            "hemoglobin",
	"plt":                    "platelets",
	"platelet count":         "platelets",
	"white blood cell count": "wbc",
	"white blood cells":      "wbc",
	"sgpt":                   "alt",
	"sgot":                   "ast",
	"alkaline phosphatase":   "alp",
	"bilirubin":              "total bilirubin",
	"tbili":                  "total bilirubin",
	"bilirubin, total":       "total bilirubin",
	"a1c":                    "hba1c",
	"hemoglobin a1c":         "hba1c",
	"blood glucose":          "glucose",
	"glucose, serum":         "glucose",
	"ft4":                    "free t4",
	"t4, free":               "free t4",
	"retic":                  "reticulocytes",
	"reticulocyte count":     "reticulocytes",
	"c-reactive protein":     "crp",
	"ca":                     "calcium",
	"phos":                   "phosphorus",
	"mg":                     "magnesium",
	"b12":                    "vitamin b12",
	"intact pth":             "pth",
	"lactic acid":            "lactate",
}

// CanonicalParameter folds case, whitespace and known aliases so that
// "Na", " sodium " and "Sodium, Serum" all resolve to the same key.
func CanonicalParameter(name string) string {
	key := similarity.Normalize(name)
	key = strings.ReplaceAll(key, " / ", "/")
	if alias, ok := parameterAliases[key]; ok {
		return alias
	}
	return key
}

// Snapshot is a set of current lab values keyed by canonical parameter.
type Snapshot map[string]clinical.LabValue

// NewSnapshot canonicalises the keys of labs.  When two spellings collide
// the one that sorts first wins so the result is deterministic.
func NewSnapshot(labs map[string]clinical.LabValue) Snapshot {
	snap := make(Snapshot, len(labs))
	winner := make(map[string]string, len(labs))
	for name, v := range labs {
		key := CanonicalParameter(name)
		if prev, ok := winner[key]; ok && prev < name {
			continue
		}
		winner[key] = name
		snap[key] = v
	}
	snap.derive()
	return snap
}

// SnapshotFromResults keeps the most recent result per parameter.  Results
// collected on the same instant are resolved by the later position.
func SnapshotFromResults(results []clinical.LabResult) Snapshot {
	latest := make(map[string]clinical.LabResult, len(results))
	for _, r := range results {
		key := CanonicalParameter(r.TestName)
		if key == "" {
			continue
		}
		if prev, ok := latest[key]; ok && prev.CollectedAt.After(r.CollectedAt) {
			continue
		}
		latest[key] = r
	}
	snap := make(Snapshot, len(latest))
	for key, r := range latest {
		snap[key] = r.Value
	}
	snap.derive()
	return snap
}

// Lookup returns the value for parameter, resolving aliases.
func (s Snapshot) Lookup(parameter string) (clinical.LabValue, bool) {
	v, ok := s[CanonicalParameter(parameter)]
	return v, ok
}

// derive fills in calculated parameters the report did not state.
func (s Snapshot) derive() {
	if _, ok := s["bun/creatinine ratio"]; !ok {
		bun, okB := s.number("bun")
		cr, okC := s.number("creatinine")
		if okB && okC && cr > 0 {
			s["bun/creatinine ratio"] = clinical.NumericValue(bun / cr)
		}
	}
	if _, ok := s["anion gap"]; !ok {
		na, okN := s.number("sodium")
		cl, okC := s.number("chloride")
		hco3, okH := s.number("bicarbonate")
		if okN && okC && okH {
			s["anion gap"] = clinical.NumericValue(na - (cl + hco3))
		}
	}
}

func (s Snapshot) number(key string) (float64, bool) {
	v, ok := s[key]
	if !ok {
		return 0, false
	}
	return v.Coerce()
}

//Personal.AI order the ending
