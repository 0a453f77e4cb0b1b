package model

import (
	"slices"
	"strings"
	"time"
)

// ReviewStatus is the lifecycle state of a validation entry.
type ReviewStatus string

const (
	StatusPendingReview ReviewStatus = "pending_review"
	StatusReviewed      ReviewStatus = "reviewed"
)

// Decision is a reviewer's verdict. The zero value means no decision.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionModify  Decision = "modify"
	DecisionSkip    Decision = "skip"
)

// Valid reports whether d is one of the four reviewer decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionModify, DecisionSkip:
		return true
	}
	return false
}

// AttentionFlag is an advisory hint that a record deserves a closer look.
type AttentionFlag string

const (
	FlagLowConfidence     AttentionFlag = "low_confidence"
	FlagAmbiguous         AttentionFlag = "ambiguous"
	FlagSingletonMapping  AttentionFlag = "singleton_mapping"
	FlagHighConfidenceGap AttentionFlag = "high_confidence_gap"
	FlagSecondaryPipeline AttentionFlag = "secondary_pipeline"
)

// AllFlags lists every attention flag in display order.
var AllFlags = []AttentionFlag{
	FlagLowConfidence,
	FlagAmbiguous,
	FlagSingletonMapping,
	FlagHighConfidenceGap,
	FlagSecondaryPipeline,
}

// FlagSet is a duplicate-free list of attention flags in AllFlags order.
type FlagSet []AttentionFlag

// Has reports whether f is in the set.
func (s FlagSet) Has(f AttentionFlag) bool {
	return slices.Contains(s, f)
}

// Union returns the union of s and other in AllFlags order.
func (s FlagSet) Union(other FlagSet) FlagSet {
	out := make(FlagSet, 0, len(s)+len(other))
	out = append(out, s...)
	for _, f := range other {
		if !out.Has(f) {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b AttentionFlag) int {
		if d := flagRank(a) - flagRank(b); d != 0 {
			return d
		}
		return strings.Compare(string(a), string(b))
	})
	return out
}

// flagRank is the position of f in AllFlags; unknown flags sort last.
func flagRank(f AttentionFlag) int {
	if i := slices.Index(AllFlags, f); i >= 0 {
		return i
	}
	return len(AllFlags)
}

// ValidationEntry is the review state of one mapping record.
type ValidationEntry struct {
	MappingID  string        `json:"mapping_id"`
	Record     MappingRecord `json:"record"`
	Status     ReviewStatus  `json:"status"`
	Decision   Decision      `json:"decision,omitempty"`
	Flags      FlagSet       `json:"flags,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	ReviewedAt *time.Time    `json:"reviewed_at,omitempty"`
}

// Committable reports whether the entry carries a decision worth sending.
func (e ValidationEntry) Committable() bool {
	return e.Status == StatusReviewed && e.Decision != DecisionNone
}
