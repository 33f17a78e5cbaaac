package clinical

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// LabValue is a reported lab result value.  It is either numeric or
// categorical ("positive", "trace", "yellow").  The reported literal is kept
// so the precision of the original report can be recovered.
type LabValue struct {
	num     float64
	numeric bool
	text    string
}

// NumericValue builds a numeric value.
func NumericValue(v float64) LabValue {
	return LabValue{num: v, numeric: true, text: strconv.FormatFloat(v, 'f', -1, 64)}
}

// NumericValueFromLiteral builds a numeric value keeping the reported literal
// (e.g. "14.20").  The literal must parse as a float.
func NumericValueFromLiteral(literal string) (LabValue, bool) {
	literal = strings.TrimSpace(literal)
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return LabValue{}, false
	}
	return LabValue{num: f, numeric: true, text: literal}, true
}

// TextValue builds a categorical value.  A string that is a plain number is
// still numeric.
func TextValue(s string) LabValue {
	if v, ok := NumericValueFromLiteral(s); ok {
		return v
	}
	return LabValue{text: strings.TrimSpace(s)}
}

// IsNumeric reports whether the value is numeric.
func (v LabValue) IsNumeric() bool { return v.numeric }

// IsZero reports whether no value was reported.
func (v LabValue) IsZero() bool { return !v.numeric && v.text == "" }

// Float returns the numeric value.
func (v LabValue) Float() (float64, bool) { return v.num, v.numeric }

func (v LabValue) String() string { return v.text }

var (
	leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)`)
	jsonNumber    = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)
)

// Coerce returns a numeric reading of the value.  Categorical text coerces
// when it starts with a number ("130 mmol/L" → 130); qualifiers such as
// "<5" or "positive" do not coerce.
func (v LabValue) Coerce() (float64, bool) {
	if v.numeric {
		return v.num, true
	}
	m := leadingNumber.FindString(strings.TrimSpace(v.text))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Precision returns one unit of the reported precision: "14.2" → 0.1,
// "130" → 1.  Categorical values return 0.
func (v LabValue) Precision() float64 {
	if !v.numeric {
		return 0
	}
	lit := strings.ToLower(v.text)
	if strings.ContainsAny(lit, "e") {
		return 0
	}
	dot := strings.IndexByte(lit, '.')
	if dot < 0 {
		return 1
	}
	decimals := len(lit) - dot - 1
	return math.Pow(10, -float64(decimals))
}

// MarshalJSON emits a JSON number for numeric values and a string otherwise.
func (v LabValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.numeric:
		if jsonNumber.MatchString(v.text) {
			return []byte(v.text), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case v.text == "":
		return []byte("null"), nil
	default:
		return json.Marshal(v.text)
	}
}

// UnmarshalJSON accepts a number, a string or null.
func (v *LabValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = LabValue{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	}
	parsed, ok := NumericValueFromLiteral(string(data))
	if !ok {
		return fmt.Errorf("clinical: invalid lab value %s", data)
	}
	*v = parsed
	return nil
}

//Personal.AI order the ending
