package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carelink-health/document-intake-api/internal/models"
)

func TestCheckSSNPattern(t *testing.T) {
	flags := Check("Patient SSN: 123-45-6789", nil)
	assert.Contains(t, flags, models.FlagSSNPattern)
}

func TestCheckSSNPatternRegardlessOfContext(t *testing.T) {
	// The pattern must be flagged wherever it appears, whatever the document.
	flags := Check("invoice ref 123-45-6789 attached", &models.MedicalInfo{})
	assert.Contains(t, flags, models.FlagSSNPattern)
}

func TestCheckPaymentCardPattern(t *testing.T) {
	flags := Check("card on file 4111 1111 1111 1111", nil)
	assert.Contains(t, flags, models.FlagPaymentCardPattern)

	flags = Check("card on file 4111-1111-1111-1111", nil)
	assert.Contains(t, flags, models.FlagPaymentCardPattern)
}

func TestCheckExposedIdentifiers(t *testing.T) {
	mi := &models.MedicalInfo{
		PatientName: "Jane Roe",
		PatientID:   "MRN-44821",
		DateOfBirth: "1985-03-12",
	}

	text := "Patient Jane Roe (MRN-44821), DOB 1985-03-12, presented with..."
	flags := Check(text, mi)

	assert.Contains(t, flags, models.FlagPatientNameExposed)
	assert.Contains(t, flags, models.FlagPatientIDExposed)
	assert.Contains(t, flags, models.FlagDOBExposed)
}

func TestCheckNoExposureWhenAbsentFromText(t *testing.T) {
	mi := &models.MedicalInfo{PatientName: "Jane Roe"}

	flags := Check("The patient presented with a persistent cough.", mi)
	assert.Empty(t, flags)
}

func TestCheckEmptyMedicalInfoFieldsIgnored(t *testing.T) {
	// Empty fields must never match (strings.Contains is true for "").
	flags := Check("any text at all", &models.MedicalInfo{})
	assert.Empty(t, flags)
}

func TestCheckCleanText(t *testing.T) {
	flags := Check("Routine follow-up in two weeks.", nil)
	assert.Empty(t, flags)
}

func TestHIPAACompliantDerived(t *testing.T) {
	result := &models.ProcessingResult{}
	assert.True(t, result.HIPAACompliant())

	result.ComplianceFlags = []string{models.FlagSSNPattern}
	assert.False(t, result.HIPAACompliant())
}

func TestScrub(t *testing.T) {
	scrubbed := Scrub("SSN 123-45-6789 and card 4111 1111 1111 1111")
	assert.NotContains(t, scrubbed, "123-45-6789")
	assert.NotContains(t, scrubbed, "4111 1111 1111 1111")
	assert.Contains(t, scrubbed, "***-**-****")
}
