package normalize

import "github.com/tidwall/gjson"

// Field names of the canonical record, used as keys into the accessor table.
const (
	fieldStatus            = "status"
	fieldError             = "error"
	fieldDataSource        = "data_source"
	fieldExamCode          = "exam_code"
	fieldExamName          = "exam_name"
	fieldModalityCode      = "modality_code"
	fieldCleanName         = "clean_name"
	fieldComponents        = "components"
	fieldConfidence        = "confidence"
	fieldSnomed            = "snomed"
	fieldCandidates        = "candidates"
	fieldAmbiguous         = "ambiguous"
	fieldSecondaryApplied  = "secondary_applied"
	fieldSecondaryImproved = "secondary_improved"
	fieldUpstreamApproved  = "upstream_approved"
	fieldCandidateLabel    = "candidate_label"
	fieldCandidateScore    = "candidate_confidence"
	fieldSnomedID          = "snomed_id"
	fieldSnomedFSN         = "snomed_fsn"
	fieldAnatomy           = "anatomy"
	fieldLaterality        = "laterality"
	fieldContrast          = "contrast"
	fieldTechnique         = "technique"
	fieldGenderContext     = "gender_context"
	fieldAgeContext        = "age_context"
	fieldClinicalContext   = "clinical_context"
	fieldReason            = "reason"
)

// accessors lists, per canonical field, every path under which the service
// has been observed to return it. Paths are tried in order and the first
// non-empty value wins. For the identifying fields the echoed input comes
// before anything the result reports.
var accessors = map[string][]string{
	fieldStatus: {"status", "output.status"},
	fieldError:  {"error.message", "error", "output.error.message", "output.error"},
	// Wider net for the bodies of failed HTTP calls.
	fieldReason: {"error.message", "error", "message", "detail"},

	fieldDataSource:   {"input.DATA_SOURCE", "input.data_source", "input.dataSource", "output.data_source", "data_source", "dataSource"},
	fieldExamCode:     {"input.EXAM_CODE", "input.exam_code", "input.examCode", "output.exam_code", "exam_code", "examCode"},
	fieldExamName:     {"input.EXAM_NAME", "input.exam_name", "input.examName", "output.exam_name", "exam_name", "examName"},
	fieldModalityCode: {"input.MODALITY_CODE", "input.modality_code", "input.modalityCode", "output.modality_code", "modality_code", "modalityCode"},

	fieldCleanName:  {"output.clean_name", "output.cleanName", "clean_name", "cleanName"},
	fieldComponents: {"output.components", "components"},
	fieldConfidence: {"output.components.confidence", "components.confidence", "output.confidence", "confidence"},
	fieldSnomed:     {"output.snomed", "snomed"},
	fieldCandidates: {"output.all_candidates", "output.allCandidates", "output.candidates", "all_candidates", "allCandidates", "candidates"},
	fieldAmbiguous:  {"output.ambiguous", "ambiguous", "output.components.ambiguous", "components.ambiguous"},

	fieldSecondaryApplied: {
		"output.secondary_pipeline_applied", "output.secondaryPipelineApplied",
		"secondary_pipeline_applied", "secondaryPipelineApplied",
		"output.metadata.secondary_pipeline_applied",
	},
	fieldSecondaryImproved: {
		"output.secondary_pipeline_improved", "output.secondaryPipelineImproved",
		"secondary_pipeline_improved", "secondaryPipelineImproved",
		"output.metadata.secondary_pipeline_improved",
	},
	fieldUpstreamApproved: {"output.approved", "approved", "validation.approved", "output.validation.approved"},

	// Relative to one candidate object.
	fieldCandidateLabel: {"label", "clean_name", "cleanName", "name", "fsn"},
	fieldCandidateScore: {"confidence", "score", "similarity"},

	// Relative to the snomed object.
	fieldSnomedID:  {"id", "concept_id", "conceptId", "snomed_id"},
	fieldSnomedFSN: {"fully_specified_name", "fullySpecifiedName", "fsn"},

	// Relative to the components object.
	fieldAnatomy:         {"anatomy"},
	fieldLaterality:      {"laterality"},
	fieldContrast:        {"contrast"},
	fieldTechnique:       {"technique"},
	fieldGenderContext:   {"gender_context", "genderContext", "gender"},
	fieldAgeContext:      {"age_context", "ageContext", "age"},
	fieldClinicalContext: {"clinical_context", "clinicalContext"},
}

// lookup resolves field against r, returning the first non-empty match.
func lookup(r gjson.Result, field string) gjson.Result {
	for _, p := range accessors[field] {
		v := r.Get(p)
		if !present(v) {
			continue
		}
		return v
	}
	return gjson.Result{}
}

func present(v gjson.Result) bool {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return false
	case v.Type == gjson.String:
		return v.Str != ""
	case v.IsArray():
		return len(v.Array()) > 0
	}
	return true
}
