// Package doc_classifier assigns a document type to raw clinical text using an
// ordered table of weighted keyword and layout heuristics.  Classification is
// a pure function of the text.
package doc_classifier

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// DefaultMinSignal is the score a type must reach to be chosen.
const DefaultMinSignal = 3.0

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// signal is one heuristic.  Keyword signals match case-insensitively on word
// boundaries; pattern signals run on the raw text.  Each signal contributes
// Weight once per match up to MaxHits.
type signal struct {
	name    string
	re      *regexp.Regexp
	weight  float64
	maxHits int
}

type rule struct {
	docType clinical.DocumentType
	signals []signal
}

func keyword(phrase string, weight float64) signal {
	return signal{
		name:    phrase,
		re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`),
		weight:  weight,
		maxHits: 1,
	}
}

func pattern(name, expr string, weight float64, maxHits int) signal {
	return signal{name: name, re: regexp.MustCompile(expr), weight: weight, maxHits: maxHits}
}

// rules are evaluated in order; on equal scores the earlier rule wins.
var rules = []rule{
	{
		docType: clinical.DocumentDischargeSummary,
		signals: []signal{
			keyword("discharge summary", 6),
			keyword("hospital course", 3),
			keyword("discharge diagnosis", 3),
			keyword("discharge diagnoses", 3),
			keyword("discharge medications", 2),
			keyword("admission date", 2),
			keyword("discharge date", 2),
			keyword("date of admission", 2),
			keyword("condition at discharge", 2),
			keyword("follow-up", 0.5),
		},
	},
	{
		docType: clinical.DocumentImagingReport,
		signals: []signal{
			keyword("impression", 2),
			keyword("findings", 1),
			keyword("technique", 2),
			keyword("comparison", 1),
			keyword("radiology", 2),
			keyword("radiologist", 2),
			keyword("contrast", 1),
			pattern("modality", `(?i)\b(CT|MRI|MR|X-?RAY|ULTRASOUND|US|PET|MAMMOGRAM|FLUOROSCOPY|DEXA)\b`, 1, 2),
			pattern("view", `(?i)\b(PA and lateral|AP view|axial|coronal|sagittal)\b`, 1, 2),
		},
	},
	{
		docType: clinical.DocumentLabReport,
		signals: []signal{
			keyword("reference range", 4),
			keyword("ref range", 3),
			keyword("laboratory", 2),
			keyword("specimen", 1),
			keyword("collected", 1),
			keyword("result", 0.5),
			keyword("flag", 1),
			pattern("tabular result row", `(?im)^\s*[A-Za-z][A-Za-z0-9 ,/()%-]{1,40}\s{2,}[<>]?\d+(\.\d+)?\s+([HLhl*]\s+)?[A-Za-z%/µμ0-9^.]+\s+\d+(\.\d+)?\s*-\s*\d+(\.\d+)?\s*$`, 1.5, 6),
			pattern("range", `\b\d+(\.\d+)?\s*-\s*\d+(\.\d+)?\s*(mmol/L|mg/dL|g/dL|U/L|mEq/L|%|K/uL|fL|ng/mL|pg/mL|mIU/L)`, 0.5, 4),
		},
	},
	{
		docType: clinical.DocumentMedicationList,
		signals: []signal{
			keyword("medication list", 5),
			keyword("current medications", 3),
			keyword("active medications", 3),
			keyword("sig", 1),
			keyword("refills", 2),
			keyword("pharmacy", 1),
			pattern("frequency", `\b(BID|TID|QID|QHS|PRN|QD|q\d+h|once daily|twice daily|at bedtime)\b`, 1, 4),
			pattern("dose", `(?i)\b\d+(\.\d+)?\s?(mg|mcg|g|mL|units?|IU)\b`, 0.5, 4),
			pattern("route", `(?i)\b(by mouth|PO|subcutaneous|SC|IV|IM|inhaled|topical)\b`, 0.5, 2),
		},
	},
	{
		docType: clinical.DocumentClinicNote,
		signals: []signal{
			keyword("chief complaint", 4),
			keyword("history of present illness", 4),
			keyword("hpi", 2),
			keyword("review of systems", 2),
			keyword("physical exam", 2),
			keyword("assessment and plan", 3),
			keyword("assessment", 1),
			keyword("plan", 0.5),
			keyword("subjective", 2),
			keyword("objective", 1),
			keyword("progress note", 4),
			keyword("office visit", 2),
		},
	},
}

// ---------------------------------------------------------------------------
// Classifier
// ---------------------------------------------------------------------------

// Classification explains a decision.
type Classification struct {
	Type    clinical.DocumentType             `json:"type"`
	Score   float64                           `json:"score"`
	Scores  map[clinical.DocumentType]float64 `json:"scores"`
	Signals []string                          `json:"signals"`
}

// Classifier is safe for concurrent use.
type Classifier struct {
	minSignal float64
}

// NewClassifier creates a classifier.  A non-positive minSignal uses the default.
func NewClassifier(minSignal float64) *Classifier {
	if minSignal <= 0 {
		minSignal = DefaultMinSignal
	}
	return &Classifier{minSignal: minSignal}
}

// Classify returns the document type for rawText, or DocumentUnknown.
func (c *Classifier) Classify(rawText string) clinical.DocumentType {
	return c.Explain(rawText).Type
}

// Explain returns the decision with per-type scores and the signals of the
// winning type.
func (c *Classifier) Explain(rawText string) Classification {
	out := Classification{
		Type:    clinical.DocumentUnknown,
		Scores:  make(map[clinical.DocumentType]float64, len(rules)),
		Signals: []string{},
	}
	if strings.TrimSpace(rawText) == "" {
		return out
	}
	// Compatibility folding turns full-width OCR output and ligatures into
	// the ASCII the signals are written for.
	rawText = norm.NFKC.String(rawText)

	best := -1
	var bestScore float64
	var bestSignals []string
	for i, r := range rules {
		score, hits := evaluate(r, rawText)
		out.Scores[r.docType] = score
		if score > bestScore {
			best, bestScore, bestSignals = i, score, hits
		}
	}
	if best < 0 || bestScore < c.minSignal {
		out.Score = bestScore
		return out
	}
	out.Type = rules[best].docType
	out.Score = bestScore
	sort.Strings(bestSignals)
	out.Signals = bestSignals
	return out
}

func evaluate(r rule, text string) (float64, []string) {
	var score float64
	var hits []string
	for _, s := range r.signals {
		n := len(s.re.FindAllStringIndex(text, s.maxHits))
		if n == 0 {
			continue
		}
		score += s.weight * float64(n)
		hits = append(hits, s.name)
	}
	return score, hits
}

//Personal.AI order the ending
