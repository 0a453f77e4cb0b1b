package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingID_Deterministic(t *testing.T) {
	a := MappingID("RIS", "CT123", "CT HEAD W/O", "CT Head without contrast")
	b := MappingID("RIS", "CT123", "CT HEAD W/O", "CT Head without contrast")
	assert.Equal(t, a, b)

	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestMappingID_FieldsMatter(t *testing.T) {
	base := MappingID("RIS", "CT123", "CT HEAD", "CT Head")
	assert.NotEqual(t, base, MappingID("RIS", "CT124", "CT HEAD", "CT Head"))
	assert.NotEqual(t, base, MappingID("RIS", "CT123", "CT HEAD ", "CT Brain"))
	assert.NotEqual(t, base, MappingID("PACS", "CT123", "CT HEAD", "CT Head"))
}

func TestMappingID_NoFieldBleed(t *testing.T) {
	// Concatenation without a separator would make these collide.
	assert.NotEqual(t,
		MappingID("AB", "C", "x", "y"),
		MappingID("A", "BC", "x", "y"),
	)
}

func TestMappingID_DataSourceCaseFolded(t *testing.T) {
	assert.Equal(t,
		MappingID("ris", "CT1", "CT HEAD", "CT Head"),
		MappingID(" RIS ", "CT1", "CT HEAD", "CT Head"),
	)
	// Exam name case stays significant.
	assert.NotEqual(t,
		MappingID("ris", "CT1", "ct head", "CT Head"),
		MappingID("ris", "CT1", "CT HEAD", "CT Head"),
	)
}

func TestMappingIDOf(t *testing.T) {
	r := MappingRecord{DataSource: "RIS", ExamCode: "1", ExamName: "XR CHEST", CleanName: "XR Chest"}
	assert.Equal(t, MappingID("RIS", "1", "XR CHEST", "XR Chest"), MappingIDOf(r))
}
