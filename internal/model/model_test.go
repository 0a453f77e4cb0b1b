package model

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorRecord(t *testing.T) {
	in := ExamInput{DataSource: "RIS", ExamCode: "9", ExamName: "???", ModalityCode: "CT"}
	r := ErrorRecord(in, FailureRemote, "parser exploded")

	assert.True(t, r.IsError())
	assert.Equal(t, "ERROR: parser exploded", r.CleanName)
	assert.Equal(t, FailureRemote, r.Failure)
	assert.True(t, r.Components.IsEmpty())
	assert.Equal(t, in, r.Input())

	blank := ErrorRecord(in, FailureNetwork, "")
	assert.Equal(t, "ERROR: unknown error", blank.CleanName)
}

func TestMappingRecord_Confidence(t *testing.T) {
	r := MappingRecord{}
	_, ok := r.Confidence()
	assert.False(t, ok)

	r.Components.Confidence = Float(0.9)
	c, ok := r.Confidence()
	assert.True(t, ok)
	assert.InDelta(t, 0.9, c, 1e-9)
}

func TestDecision_Valid(t *testing.T) {
	for _, d := range []Decision{DecisionApprove, DecisionReject, DecisionModify, DecisionSkip} {
		assert.True(t, d.Valid(), d)
	}
	assert.False(t, DecisionNone.Valid())
	assert.False(t, Decision("unapprove").Valid())
}

func TestFlagSet_Union(t *testing.T) {
	a := FlagSet{FlagSingletonMapping, FlagLowConfidence}
	b := FlagSet{FlagLowConfidence, FlagAmbiguous}

	u := a.Union(b)
	assert.Equal(t, FlagSet{FlagLowConfidence, FlagAmbiguous, FlagSingletonMapping}, u)
	assert.True(t, u.Has(FlagAmbiguous))
	assert.False(t, u.Has(FlagSecondaryPipeline))
}

func TestFlagSet_UnionFollowsAllFlagsOrder(t *testing.T) {
	rev := slices.Clone(FlagSet(AllFlags))
	slices.Reverse(rev)

	assert.Equal(t, FlagSet(AllFlags), FlagSet{}.Union(rev))
	assert.Equal(t, FlagSet{FlagHighConfidenceGap, "custom"}, FlagSet{"custom"}.Union(FlagSet{FlagHighConfidenceGap}))
}

func TestValidationEntry_Committable(t *testing.T) {
	assert.False(t, ValidationEntry{Status: StatusPendingReview}.Committable())
	assert.False(t, ValidationEntry{Status: StatusReviewed}.Committable())
	assert.True(t, ValidationEntry{Status: StatusReviewed, Decision: DecisionSkip}.Committable())
}
