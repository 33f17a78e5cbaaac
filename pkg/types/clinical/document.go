// Package clinical defines the shared clinical record vocabulary: document
// types, record kinds, the typed record payloads produced by extraction and
// persisted in the longitudinal store, and the extraction envelope itself.
package clinical

import "strings"

// DocumentType labels an incoming document.
type DocumentType string

const (
	DocumentLabReport        DocumentType = "lab-report"
	DocumentDischargeSummary DocumentType = "discharge-summary"
	DocumentClinicNote       DocumentType = "clinic-note"
	DocumentImagingReport    DocumentType = "imaging-report"
	DocumentMedicationList   DocumentType = "medication-list"
	DocumentUnknown          DocumentType = "unknown"
)

// AllDocumentTypes returns every document type in a stable order.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentLabReport,
		DocumentDischargeSummary,
		DocumentClinicNote,
		DocumentImagingReport,
		DocumentMedicationList,
		DocumentUnknown,
	}
}

// IsValid checks if the DocumentType is one of the enumerated values.
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentLabReport, DocumentDischargeSummary, DocumentClinicNote,
		DocumentImagingReport, DocumentMedicationList, DocumentUnknown:
		return true
	default:
		return false
	}
}

func (t DocumentType) String() string {
	return string(t)
}

// ParseDocumentType maps free text to a DocumentType.  Underscores and case
// are tolerated; anything unrecognised becomes DocumentUnknown.
func ParseDocumentType(s string) DocumentType {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	norm = strings.ReplaceAll(norm, " ", "-")
	t := DocumentType(norm)
	if t.IsValid() {
		return t
	}
	return DocumentUnknown
}

//Personal.AI order the ending
