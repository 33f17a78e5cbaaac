package record_extractor

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

// ---------------------------------------------------------------------------
// Prompt templates
// ---------------------------------------------------------------------------

const schemaBlock = `Return ONLY one JSON object, with no prose and no Markdown, using exactly these keys:
{
  "patientName": string or null,
  "dateOfService": "YYYY-MM-DD" or null,
  "facility": string or null,
  "provider": string or null,
  "labs": [{"testName": string, "value": number or string, "unit": string, "referenceRange": {"low": number, "high": number}, "status": "normal"|"high"|"low"|"critical", "collectedAt": "YYYY-MM-DD"}],
  "medications": [{"name": string, "dosage": string, "frequency": string, "route": string, "status": "active"|"discontinued"|"completed"|"on-hold", "code": string, "startDate": "YYYY-MM-DD"}],
  "conditions": [{"name": string, "status": "active"|"resolved"|"inactive", "code": string, "onsetDate": "YYYY-MM-DD"}],
  "imaging": [{"studyName": string, "modality": string, "bodyPart": string, "impression": string, "status": "final"|"preliminary"|"amended", "code": string, "performedAt": "YYYY-MM-DD"}],
  "vitals": [{"type": string, "value": number or string, "unit": string, "measuredAt": "YYYY-MM-DD"}]
}
Use an empty array when the document has no items of a kind. Never invent a
test name, medication name or date that is not written in the document; leave
an item out instead. If a value is unreadable write "unclear".`

const basePrompt = `You are a clinical data abstraction assistant.
{{.Focus}}

` + schemaBlock + `

Document type: {{.DocumentType}}
Document text:
<<<
{{.RawText}}
>>>`

const repairSuffix = `

Your previous answer could not be used: {{.ParseError}}
Previous answer:
<<<
{{.Previous}}
>>>
Answer again with a single valid JSON object that follows the schema exactly.`

var focusByType = map[clinical.DocumentType]string{
	clinical.DocumentLabReport: "The document is a laboratory report. Extract every result row into labs, " +
		"keeping the reported value, unit, reference range and flag. Vitals only if printed.",
	clinical.DocumentDischargeSummary: "The document is a hospital discharge summary. Extract discharge diagnoses " +
		"into conditions, discharge medications into medications, and any lab values or imaging mentioned with dates.",
	clinical.DocumentClinicNote: "The document is an outpatient clinic note. Extract assessed problems into conditions, " +
		"the medication list into medications, and vital signs from the exam into vitals.",
	clinical.DocumentImagingReport: "The document is a radiology report. Extract the study into imaging with the " +
		"impression text verbatim. Leave labs and medications empty unless explicitly listed.",
	clinical.DocumentMedicationList: "The document is a medication list. Extract every medication with dose, " +
		"frequency, route and status.",
	clinical.DocumentUnknown: "The document type is not known. Extract any labs, medications, conditions, " +
		"imaging studies and vital signs that are clearly stated.",
}

// promptData is the template input.
type promptData struct {
	DocumentType string
	Focus        string
	RawText      string
	ParseError   string
	Previous     string
}

// PromptBuilder renders extraction prompts.  It is safe for concurrent use.
type PromptBuilder struct {
	base   *template.Template
	repair *template.Template
}

// NewPromptBuilder parses the built-in templates.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		base:   template.Must(template.New("extract").Parse(basePrompt)),
		repair: template.Must(template.New("repair").Parse(basePrompt + repairSuffix)),
	}
}

// Build renders the first-attempt prompt for docType.
func (b *PromptBuilder) Build(docType clinical.DocumentType, rawText string) (string, error) {
	return b.render(b.base, newPromptData(docType, rawText))
}

// BuildRepair renders the retry prompt carrying the previous answer and the
// reason it was rejected.
func (b *PromptBuilder) BuildRepair(docType clinical.DocumentType, rawText, previous string, parseErr error) (string, error) {
	data := newPromptData(docType, rawText)
	if parseErr != nil {
		data.ParseError = parseErr.Error()
	}
	data.Previous = truncateRunes(strings.TrimSpace(previous), maxEchoedAnswer)
	return b.render(b.repair, data)
}

// maxEchoedAnswer bounds how much of a bad answer is sent back.
const maxEchoedAnswer = 4000

func newPromptData(docType clinical.DocumentType, rawText string) promptData {
	if !docType.IsValid() {
		docType = clinical.DocumentUnknown
	}
	return promptData{
		DocumentType: docType.String(),
		Focus:        focusByType[docType],
		RawText:      rawText,
	}
}

func (b *PromptBuilder) render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

//Personal.AI order the ending
