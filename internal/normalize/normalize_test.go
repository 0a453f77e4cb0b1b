package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/examclean/internal/model"
)

func TestNormalize_BatchItemShape(t *testing.T) {
	raw := []byte(`{
		"status": "success",
		"input": {"DATA_SOURCE": "RIS", "EXAM_CODE": "CT01", "EXAM_NAME": "CT HEAD W/O", "MODALITY_CODE": "CT"},
		"output": {
			"clean_name": "CT Head without contrast",
			"components": {
				"anatomy": ["head"],
				"laterality": "",
				"contrast": "without",
				"technique": "axial",
				"gender_context": "none",
				"age_context": "adult",
				"clinical_context": ["trauma"],
				"confidence": 0.92
			},
			"snomed": {"id": "408754009", "fsn": "CT of head without contrast (procedure)"},
			"all_candidates": [
				{"label": "CT Head without contrast", "confidence": 0.92},
				{"label": "CT Head with contrast", "confidence": 0.61}
			],
			"ambiguous": false,
			"secondary_pipeline_applied": true,
			"secondary_pipeline_improved": true
		}
	}`)

	rec := Normalize(raw)
	assert.Equal(t, "RIS", rec.DataSource)
	assert.Equal(t, "CT01", rec.ExamCode)
	assert.Equal(t, "CT HEAD W/O", rec.ExamName)
	assert.Equal(t, "CT", rec.ModalityCode)
	assert.Equal(t, "CT Head without contrast", rec.CleanName)
	assert.False(t, rec.IsError())

	assert.Equal(t, []string{"head"}, rec.Components.Anatomy)
	assert.Equal(t, "without", rec.Components.Contrast)
	assert.Equal(t, []string{"axial"}, rec.Components.Technique, "single string becomes a one-item list")
	assert.Equal(t, []string{"trauma"}, rec.Components.ClinicalContext)
	conf, ok := rec.Confidence()
	require.True(t, ok)
	assert.InDelta(t, 0.92, conf, 1e-9)

	require.NotNil(t, rec.Snomed)
	assert.Equal(t, "408754009", rec.Snomed.ID)
	assert.Equal(t, "CT of head without contrast (procedure)", rec.Snomed.FullySpecifiedName)

	require.Len(t, rec.Candidates, 2)
	assert.Equal(t, "CT Head with contrast", rec.Candidates[1].Label)
	assert.InDelta(t, 0.61, rec.Candidates[1].Confidence, 1e-9)

	assert.True(t, rec.SecondaryPipelineApplied)
	assert.True(t, rec.SecondaryPipelineImproved)
	assert.False(t, rec.Ambiguous)
}

func TestNormalize_ExamNamePrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"upper input", `{"status":"success","input":{"EXAM_NAME":"A","exam_name":"B"},"output":{"exam_name":"C","clean_name":"X"}}`, "A"},
		{"lower input", `{"status":"success","input":{"EXAM_NAME":"","exam_name":"B"},"output":{"exam_name":"C","clean_name":"X"}}`, "B"},
		{"output only", `{"status":"success","input":{},"output":{"exam_name":"C","clean_name":"X"}}`, "C"},
		{"flat camel", `{"examName":"D","cleanName":"X"}`, "D"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize([]byte(tt.raw)).ExamName)
		})
	}
}

func TestNormalize_ErrorStatus(t *testing.T) {
	raw := []byte(`{
		"status": "error",
		"error": "no anatomy detected",
		"input": {"exam_name": "MISC 123"},
		"output": {"clean_name": "should be ignored", "components": {"confidence": 0.9}}
	}`)

	rec := Normalize(raw)
	assert.Equal(t, "ERROR: no anatomy detected", rec.CleanName)
	assert.True(t, rec.IsError())
	assert.True(t, rec.Components.IsEmpty())
	assert.Empty(t, rec.Candidates)
	assert.Equal(t, "MISC 123", rec.ExamName)
	assert.Equal(t, model.FailureRemote, rec.Failure)
}

func TestNormalize_NonSuccessStatusWithoutReason(t *testing.T) {
	rec := Normalize([]byte(`{"status":"failed","input":{"exam_name":"X"}}`))
	assert.Equal(t, "ERROR: status failed", rec.CleanName)
}

func TestNormalize_ErrorObject(t *testing.T) {
	rec := Normalize([]byte(`{"status":"error","error":{"message":"model unavailable","code":503}}`))
	assert.Equal(t, "ERROR: model unavailable", rec.CleanName)
}

func TestNormalize_MissingCleanName(t *testing.T) {
	rec := Normalize([]byte(`{"status":"success","output":{"components":{}}}`))
	assert.True(t, rec.IsError())
	assert.Equal(t, model.FailureMalformed, rec.Failure)
}

func TestNormalize_InvalidJSON(t *testing.T) {
	rec := Normalize([]byte(`{not json`))
	assert.True(t, rec.IsError())
	assert.Equal(t, model.FailureMalformed, rec.Failure)
}

func TestNormalize_CandidateVariants(t *testing.T) {
	rec := Normalize([]byte(`{
		"cleanName": "XR Chest",
		"allCandidates": [
			{"name": "XR Chest", "score": 0.88},
			"XR Chest 2 views",
			{"similarity": 0.2}
		]
	}`))
	require.Len(t, rec.Candidates, 2, "candidates without a label are dropped")
	assert.Equal(t, "XR Chest", rec.Candidates[0].Label)
	assert.InDelta(t, 0.88, rec.Candidates[0].Confidence, 1e-9)
	assert.Equal(t, "XR Chest 2 views", rec.Candidates[1].Label)
}

func TestNormalize_ConfidenceClampedAndOptional(t *testing.T) {
	rec := Normalize([]byte(`{"cleanName":"A","components":{"confidence":1.7}}`))
	conf, ok := rec.Confidence()
	require.True(t, ok)
	assert.InDelta(t, 1.0, conf, 1e-9)

	rec = Normalize([]byte(`{"cleanName":"A","components":{"anatomy":["knee"]}}`))
	_, ok = rec.Confidence()
	assert.False(t, ok)
}

func TestNormalize_UpstreamApprovedAndAmbiguous(t *testing.T) {
	rec := Normalize([]byte(`{"status":"success","output":{"clean_name":"A","approved":true,"ambiguous":true}}`))
	assert.True(t, rec.UpstreamApproved)
	assert.True(t, rec.Ambiguous)
}

func TestNormalizeWithInput_FillsMissingIdentity(t *testing.T) {
	in := model.ExamInput{DataSource: "PACS", ExamCode: "7", ExamName: "US ABD", ModalityCode: "US"}
	rec := NormalizeWithInput([]byte(`{"status":"success","output":{"clean_name":"US Abdomen"}}`), in)
	assert.Equal(t, "PACS", rec.DataSource)
	assert.Equal(t, "7", rec.ExamCode)
	assert.Equal(t, "US ABD", rec.ExamName)
	assert.Equal(t, "US", rec.ModalityCode)
}

func TestEnvelope(t *testing.T) {
	in := model.ExamInput{DataSource: "RIS", ExamCode: "1", ExamName: "CT CHEST", ModalityCode: "CT"}

	t.Run("success body", func(t *testing.T) {
		env := Envelope(in, 200, []byte(`{"cleanName":"CT Chest","components":{"confidence":0.9}}`))
		assert.Equal(t, "CT CHEST", gjson.GetBytes(env, "input.exam_name").String())
		rec := Normalize(env)
		assert.Equal(t, "CT Chest", rec.CleanName)
		assert.Equal(t, "RIS", rec.DataSource)
	})

	t.Run("http failure uses body reason", func(t *testing.T) {
		env := Envelope(in, 422, []byte(`{"detail":"exam name too short"}`))
		rec := Normalize(env)
		assert.Equal(t, "ERROR: exam name too short", rec.CleanName)
		assert.Equal(t, "CT CHEST", rec.ExamName)
	})

	t.Run("http failure without body", func(t *testing.T) {
		rec := Normalize(Envelope(in, 500, nil))
		assert.Equal(t, "ERROR: HTTP 500", rec.CleanName)
	})

	t.Run("explicit error payload on 200", func(t *testing.T) {
		rec := Normalize(Envelope(in, 200, []byte(`{"status":"error","error":"parser crashed"}`)))
		assert.Equal(t, "ERROR: parser crashed", rec.CleanName)
	})

	t.Run("informational message is not an error", func(t *testing.T) {
		rec := Normalize(Envelope(in, 200, []byte(`{"cleanName":"CT Chest","message":"cached"}`)))
		assert.False(t, rec.IsError())
	})

	t.Run("garbage body", func(t *testing.T) {
		rec := Normalize(Envelope(in, 200, []byte(`<html>`)))
		assert.Equal(t, "ERROR: malformed response body", rec.CleanName)
	})
}
