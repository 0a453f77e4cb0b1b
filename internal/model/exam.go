// Package model defines the canonical exam mapping records and review state
// shared by the orchestrator, consolidation and review packages.
package model

import "strings"

// ErrorPrefix marks a CleanName that carries a processing failure instead of
// a standardized label.
const ErrorPrefix = "ERROR: "

// FailureKind classifies why a record ended up with an error CleanName.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureRemote  FailureKind = "remote_error"
	FailureNetwork FailureKind = "network_failure"
	FailureTimeout FailureKind = "network_timeout"
	// FailurePartial is one record failing inside an otherwise successful batch.
	FailurePartial   FailureKind = "partial_item_failure"
	FailureMalformed FailureKind = "malformed_response"
)

// ExamInput is one raw record submitted for cleaning.
type ExamInput struct {
	DataSource   string `json:"data_source" csv:"data_source" yaml:"data_source"`
	ExamCode     string `json:"exam_code" csv:"exam_code" yaml:"exam_code"`
	ExamName     string `json:"exam_name" csv:"exam_name" yaml:"exam_name"`
	ModalityCode string `json:"modality_code" csv:"modality_code" yaml:"modality_code"`
}

// Components is the structured extraction the service produced for an exam.
type Components struct {
	Anatomy         []string `json:"anatomy,omitempty" yaml:"anatomy,omitempty"`
	Laterality      string   `json:"laterality,omitempty" yaml:"laterality,omitempty"`
	Contrast        string   `json:"contrast,omitempty" yaml:"contrast,omitempty"`
	Technique       []string `json:"technique,omitempty" yaml:"technique,omitempty"`
	GenderContext   string   `json:"gender_context,omitempty" yaml:"gender_context,omitempty"`
	AgeContext      string   `json:"age_context,omitempty" yaml:"age_context,omitempty"`
	ClinicalContext []string `json:"clinical_context,omitempty" yaml:"clinical_context,omitempty"`
	// Confidence is nil when the service did not report one.
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// IsEmpty reports whether no component was extracted.
func (c Components) IsEmpty() bool {
	return len(c.Anatomy) == 0 && c.Laterality == "" && c.Contrast == "" &&
		len(c.Technique) == 0 && c.GenderContext == "" && c.AgeContext == "" &&
		len(c.ClinicalContext) == 0 && c.Confidence == nil
}

// SnomedRef is the SNOMED CT concept a clean name was mapped to.
type SnomedRef struct {
	ID                 string `json:"id" yaml:"id"`
	FullySpecifiedName string `json:"fully_specified_name,omitempty" yaml:"fully_specified_name,omitempty"`
}

// Candidate is one alternative label the service considered.
type Candidate struct {
	Label      string  `json:"label" yaml:"label"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// MappingRecord is the canonical result of cleaning one exam name. Records
// are never mutated after normalization; a new run replaces the whole set.
type MappingRecord struct {
	DataSource   string `json:"data_source" yaml:"data_source"`
	ExamCode     string `json:"exam_code" yaml:"exam_code"`
	ExamName     string `json:"exam_name" yaml:"exam_name"`
	ModalityCode string `json:"modality_code" yaml:"modality_code"`

	CleanName  string      `json:"clean_name" yaml:"clean_name"`
	Components Components  `json:"components" yaml:"components"`
	Snomed     *SnomedRef  `json:"snomed,omitempty" yaml:"snomed,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Ambiguous  bool        `json:"ambiguous,omitempty" yaml:"ambiguous,omitempty"`

	SecondaryPipelineApplied  bool `json:"secondary_pipeline_applied,omitempty" yaml:"secondary_pipeline_applied,omitempty"`
	SecondaryPipelineImproved bool `json:"secondary_pipeline_improved,omitempty" yaml:"secondary_pipeline_improved,omitempty"`
	UpstreamApproved          bool `json:"upstream_approved,omitempty" yaml:"upstream_approved,omitempty"`

	Failure FailureKind `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// IsError reports whether the record carries the error sentinel.
func (r MappingRecord) IsError() bool {
	return IsErrorName(r.CleanName)
}

// Confidence returns the reported confidence and whether one was reported.
func (r MappingRecord) Confidence() (float64, bool) {
	if r.Components.Confidence == nil {
		return 0, false
	}
	return *r.Components.Confidence, true
}

// Input returns the identifying fields the record was created from.
func (r MappingRecord) Input() ExamInput {
	return ExamInput{
		DataSource:   r.DataSource,
		ExamCode:     r.ExamCode,
		ExamName:     r.ExamName,
		ModalityCode: r.ModalityCode,
	}
}

// IsErrorName reports whether a clean name is the error sentinel.
func IsErrorName(name string) bool {
	return strings.HasPrefix(name, ErrorPrefix)
}

// ErrorRecord builds an error record for an input that could not be cleaned.
func ErrorRecord(in ExamInput, kind FailureKind, reason string) MappingRecord {
	if reason == "" {
		reason = "unknown error"
	}
	return MappingRecord{
		DataSource:   in.DataSource,
		ExamCode:     in.ExamCode,
		ExamName:     in.ExamName,
		ModalityCode: in.ModalityCode,
		CleanName:    ErrorPrefix + reason,
		Failure:      kind,
	}
}

// Float returns a pointer to v, for optional confidences.
func Float(v float64) *float64 {
	return &v
}
