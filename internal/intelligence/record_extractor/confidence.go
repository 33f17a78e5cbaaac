package record_extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/similarity"
	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// Confidence weights.  They sum to 1.
const (
	CompletenessWeight = 0.5
	ConsistencyWeight  = 0.3
	CertaintyWeight    = 0.2

	// UncertaintyPenalty is subtracted from certainty per marker found in the
	// model's answer.
	UncertaintyPenalty = 0.25
)

// bounds is an inclusive physiological plausibility interval.  Values outside
// it are almost certainly transcription or unit errors.
type bounds struct{ lo, hi float64 }

func (b bounds) String() string {
	return "[" + strconv.FormatFloat(b.lo, 'g', -1, 64) + ", " + strconv.FormatFloat(b.hi, 'g', -1, 64) + "]"
}

// plausibleLabs is keyed by canonical lab parameter.
var plausibleLabs = map[string]bounds{
	"sodium":           {90, 200},
	"potassium":        {1, 10},
	"chloride":         {60, 150},
	"bicarbonate":      {2, 60},
	"bun":              {0, 300},
	"creatinine":       {0.05, 30},
	"glucose":          {10, 2000},
	"hemoglobin":       {1, 25},
	"hematocrit":       {5, 75},
	"wbc":              {0.1, 500},
	"platelets":        {1, 3000},
	"calcium":          {2, 20},
	"magnesium":        {0.2, 10},
	"phosphorus":       {0.3, 20},
	"albumin":          {0.5, 7},
	"total bilirubin":  {0, 60},
	"alt":              {0, 20000},
	"ast":              {0, 30000},
	"alp":              {0, 5000},
	"tsh":              {0, 200},
	"free t4":          {0, 15},
	"hba1c":            {2, 25},
	"serum osmolality": {150, 450},
	"lactate":          {0, 40},
}

// vitalAliases folds common vital-sign spellings.
var vitalAliases = map[string]string{
	"hr":                      "heart rate",
	"pulse":                   "heart rate",
	"pulse rate":              "heart rate",
	"rr":                      "respiratory rate",
	"resp rate":               "respiratory rate",
	"respirations":            "respiratory rate",
	"temp":                    "temperature",
	"spo2":                    "oxygen saturation",
	"o2 sat":                  "oxygen saturation",
	"sao2":                    "oxygen saturation",
	"sbp":                     "systolic blood pressure",
	"systolic":                "systolic blood pressure",
	"dbp":                     "diastolic blood pressure",
	"diastolic":               "diastolic blood pressure",
	"bp systolic":             "systolic blood pressure",
	"bp diastolic":            "diastolic blood pressure",
	"blood pressure systolic": "systolic blood pressure",
}

var plausibleVitals = map[string]bounds{
	"heart rate":               {15, 300},
	"respiratory rate":         {2, 80},
	"oxygen saturation":        {40, 100},
	"systolic blood pressure":  {40, 300},
	"diastolic blood pressure": {20, 200},
}

var (
	celsius    = bounds{25, 46}
	fahrenheit = bounds{77, 115}
)

// plausibility is the result of one range check.
type plausibility struct {
	ok     bool
	value  string
	bounds string
}

func checkBounds(v float64, literal string, b bounds) *plausibility {
	return &plausibility{ok: v >= b.lo && v <= b.hi, value: literal, bounds: b.String()}
}

// plausibleLab checks a lab value.  It returns nil for tests without a known
// range and for values that do not coerce to a number.
func plausibleLab(testName string, v clinical.LabValue, _ string) *plausibility {
	b, ok := plausibleLabs[labpattern.CanonicalParameter(testName)]
	if !ok {
		return nil
	}
	f, ok := v.Coerce()
	if !ok {
		return nil
	}
	return checkBounds(f, v.String(), b)
}

// plausibleVital checks a vital sign.  Temperature is checked against the
// Celsius or Fahrenheit interval depending on the unit, guessing Fahrenheit
// for unit-less readings above 50.
func plausibleVital(vitalType string, v clinical.LabValue, unit string) *plausibility {
	f, ok := v.Coerce()
	if !ok {
		return nil
	}
	key := similarity.Normalize(vitalType)
	if alias, found := vitalAliases[key]; found {
		key = alias
	}
	if key == "temperature" || key == "body temperature" {
		u := strings.ToLower(unit)
		switch {
		case strings.Contains(u, "f"):
			return checkBounds(f, v.String(), fahrenheit)
		case strings.Contains(u, "c"):
			return checkBounds(f, v.String(), celsius)
		case f > 50:
			return checkBounds(f, v.String(), fahrenheit)
		default:
			return checkBounds(f, v.String(), celsius)
		}
	}
	b, ok := plausibleVitals[key]
	if !ok {
		return nil
	}
	return checkBounds(f, v.String(), b)
}

var (
	uncertainValue = regexp.MustCompile(`(?i)^(unclear|illegible|unreadable|uncertain|not sure|cannot determine)\.?$`)
	hedgePrefix    = regexp.MustCompile(`(?i)^(possibly|probably|approximately|uncertain|unclear)\b`)
)

// freeTextKeys hold text copied from the document, whose own hedging says
// nothing about the extraction.
var freeTextKeys = map[string]bool{
	"impression": true, "findings": true, "notes": true, "note": true, "summary": true,
}

// countUncertainty counts the uncertainty markers the model wrote into its
// answer: a value that is only a marker, a value that opens with a hedge, and
// every question mark outside free-text fields.
func countUncertainty(answer string) int {
	var root interface{}
	if err := json.Unmarshal([]byte(stripFences(answer)), &root); err != nil {
		return 0
	}
	return uncertaintyIn(root)
}

func uncertaintyIn(v interface{}) int {
	n := 0
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if freeTextKeys[foldKey(k)] {
				continue
			}
			n += uncertaintyIn(child)
		}
	case []interface{}:
		for _, child := range t {
			n += uncertaintyIn(child)
		}
	case string:
		s := strings.TrimSpace(t)
		if uncertainValue.MatchString(s) || hedgePrefix.MatchString(s) {
			n++
		}
		n += strings.Count(s, "?")
	}
	return n
}

// score computes the extraction confidence.  No surviving records means 0.
func score(q quality, records int, uncertaintyMarkers int) float64 {
	if records == 0 || q.expected == 0 {
		return 0
	}
	completeness := float64(q.populated) / float64(q.expected)
	consistency := 1.0
	if q.checked > 0 {
		consistency = float64(q.plausible) / float64(q.checked)
	}
	certainty := 1 - UncertaintyPenalty*float64(uncertaintyMarkers)
	if certainty < 0 {
		certainty = 0
	}
	return clinical.ClampConfidence(
		CompletenessWeight*completeness + ConsistencyWeight*consistency + CertaintyWeight*certainty)
}

//Personal.AI order the ending
