// Package normalize maps the heterogeneous result shapes returned by the
// cleaning service onto model.MappingRecord.
package normalize

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sells-group/examclean/internal/model"
)

// Normalize converts one raw result item into a canonical record. It never
// fails: unreadable items become error records.
func Normalize(raw []byte) model.MappingRecord {
	if !gjson.ValidBytes(raw) {
		return model.MappingRecord{
			CleanName: model.ErrorPrefix + "malformed result item",
			Failure:   model.FailureMalformed,
		}
	}
	r := gjson.ParseBytes(raw)

	rec := model.MappingRecord{
		DataSource:   lookup(r, fieldDataSource).String(),
		ExamCode:     lookup(r, fieldExamCode).String(),
		ExamName:     lookup(r, fieldExamName).String(),
		ModalityCode: lookup(r, fieldModalityCode).String(),
	}

	if ok, reason := succeeded(r); !ok {
		rec.CleanName = model.ErrorPrefix + reason
		rec.Failure = model.FailureRemote
		return rec
	}

	rec.CleanName = strings.TrimSpace(lookup(r, fieldCleanName).String())
	if rec.CleanName == "" {
		rec.CleanName = model.ErrorPrefix + "result has no clean name"
		rec.Failure = model.FailureMalformed
		return rec
	}
	if model.IsErrorName(rec.CleanName) {
		rec.Failure = model.FailureRemote
		return rec
	}

	rec.Components = components(r)
	rec.Snomed = snomed(lookup(r, fieldSnomed))
	rec.Candidates = candidates(lookup(r, fieldCandidates))
	rec.Ambiguous = lookup(r, fieldAmbiguous).Bool()
	rec.SecondaryPipelineApplied = lookup(r, fieldSecondaryApplied).Bool()
	rec.SecondaryPipelineImproved = lookup(r, fieldSecondaryImproved).Bool()
	rec.UpstreamApproved = lookup(r, fieldUpstreamApproved).Bool()
	return rec
}

// NormalizeWithInput normalizes raw and fills identifying fields the item
// did not echo from the input it was submitted for.
func NormalizeWithInput(raw []byte, in model.ExamInput) model.MappingRecord {
	rec := Normalize(raw)
	if rec.DataSource == "" {
		rec.DataSource = in.DataSource
	}
	if rec.ExamCode == "" {
		rec.ExamCode = in.ExamCode
	}
	if rec.ExamName == "" {
		rec.ExamName = in.ExamName
	}
	if rec.ModalityCode == "" {
		rec.ModalityCode = in.ModalityCode
	}
	return rec
}

// Envelope wraps a single-record response into the batch item shape
// ({status, input, output}) so both go through the same accessor table.
func Envelope(in model.ExamInput, statusCode int, body []byte) []byte {
	env := []byte(`{}`)
	env, _ = sjson.SetBytes(env, "input.data_source", in.DataSource)
	env, _ = sjson.SetBytes(env, "input.exam_code", in.ExamCode)
	env, _ = sjson.SetBytes(env, "input.exam_name", in.ExamName)
	env, _ = sjson.SetBytes(env, "input.modality_code", in.ModalityCode)

	valid := gjson.ValidBytes(body)
	if valid {
		env, _ = sjson.SetRawBytes(env, "output", body)
	}

	switch {
	case statusCode < 200 || statusCode >= 300:
		reason := fmt.Sprintf("HTTP %d", statusCode)
		if valid {
			if msg := lookup(gjson.ParseBytes(body), fieldReason).String(); msg != "" {
				reason = msg
			}
		}
		env, _ = sjson.SetBytes(env, "status", "error")
		env, _ = sjson.SetBytes(env, "error", reason)
	case !valid:
		env, _ = sjson.SetBytes(env, "status", "error")
		env, _ = sjson.SetBytes(env, "error", "malformed response body")
	default:
		if s := gjson.GetBytes(body, "status"); s.Exists() {
			env, _ = sjson.SetBytes(env, "status", s.String())
		}
		if e := lookup(gjson.ParseBytes(body), fieldError); e.Exists() {
			env, _ = sjson.SetBytes(env, "error", e.String())
		}
	}
	return env
}

// succeeded applies the status rule: an explicit status must be "success";
// without one, an error field marks failure.
func succeeded(r gjson.Result) (bool, string) {
	reason := lookup(r, fieldError).String()
	if status := lookup(r, fieldStatus); status.Exists() {
		if strings.EqualFold(status.String(), "success") {
			return true, ""
		}
		if reason == "" {
			reason = "status " + status.String()
		}
		return false, reason
	}
	if reason != "" {
		return false, reason
	}
	return true, ""
}

func components(r gjson.Result) model.Components {
	c := lookup(r, fieldComponents)
	out := model.Components{
		Anatomy:         stringList(lookup(c, fieldAnatomy)),
		Laterality:      lookup(c, fieldLaterality).String(),
		Contrast:        lookup(c, fieldContrast).String(),
		Technique:       stringList(lookup(c, fieldTechnique)),
		GenderContext:   lookup(c, fieldGenderContext).String(),
		AgeContext:      lookup(c, fieldAgeContext).String(),
		ClinicalContext: stringList(lookup(c, fieldClinicalContext)),
	}
	if conf := lookup(r, fieldConfidence); conf.Exists() && conf.Type == gjson.Number {
		out.Confidence = model.Float(clamp01(conf.Float()))
	}
	return out
}

func snomed(r gjson.Result) *model.SnomedRef {
	if !r.IsObject() {
		return nil
	}
	id := lookup(r, fieldSnomedID).String()
	if id == "" {
		return nil
	}
	return &model.SnomedRef{ID: id, FullySpecifiedName: lookup(r, fieldSnomedFSN).String()}
}

func candidates(r gjson.Result) []model.Candidate {
	if !r.IsArray() {
		return nil
	}
	var out []model.Candidate
	for _, item := range r.Array() {
		var c model.Candidate
		if item.Type == gjson.String {
			c.Label = item.Str
		} else {
			c.Label = lookup(item, fieldCandidateLabel).String()
			c.Confidence = clamp01(lookup(item, fieldCandidateScore).Float())
		}
		if c.Label == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// stringList accepts either a JSON array of strings or a single string.
func stringList(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		if s := strings.TrimSpace(r.String()); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, v := range r.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
