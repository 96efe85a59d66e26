// Package compliance scans extracted text for exposed PHI/PII. The checker is
// a pure function: no external calls, no side effects. Flags are advisory and
// never block pipeline completion.
package compliance

import (
	"regexp"
	"strings"

	"github.com/carelink-health/document-intake-api/internal/models"
)

var (
	ssnPattern  = regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)
	cardPattern = regexp.MustCompile(`\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}`)
)

// Check returns the compliance flags raised by the given text and extracted
// medical info. Flags appear in insertion order; order is not significant.
func Check(text string, mi *models.MedicalInfo) []string {
	var flags []string

	if mi != nil {
		if mi.PatientName != "" && strings.Contains(text, mi.PatientName) {
			flags = append(flags, models.FlagPatientNameExposed)
		}
		if mi.PatientID != "" && strings.Contains(text, mi.PatientID) {
			flags = append(flags, models.FlagPatientIDExposed)
		}
		if mi.DateOfBirth != "" && strings.Contains(text, mi.DateOfBirth) {
			flags = append(flags, models.FlagDOBExposed)
		}
	}

	if ssnPattern.MatchString(text) {
		flags = append(flags, models.FlagSSNPattern)
	}
	if cardPattern.MatchString(text) {
		flags = append(flags, models.FlagPaymentCardPattern)
	}

	return flags
}

// Scrub masks SSN- and card-shaped patterns in text. Used when assembling
// export payloads that leave the system.
func Scrub(text string) string {
	text = ssnPattern.ReplaceAllString(text, "***-**-****")
	text = cardPattern.ReplaceAllString(text, "****-****-****-****")
	return text
}
