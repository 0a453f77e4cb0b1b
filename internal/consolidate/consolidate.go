// Package consolidate groups cleaned records by their clean name and derives
// the advisory attention flags shown to reviewers.
package consolidate

import (
	"math"

	"github.com/sells-group/examclean/internal/model"
)

const (
	// DefaultLowConfidence flags records whose confidence is below it.
	DefaultLowConfidence = 0.85
	// DefaultConfidenceGap flags a top candidate that leads the runner-up by more than it.
	DefaultConfidenceGap = 0.15
)

// Options tunes the flag thresholds.
type Options struct {
	LowConfidence float64
	ConfidenceGap float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{LowConfidence: DefaultLowConfidence, ConfidenceGap: DefaultConfidenceGap}
}

func (o Options) withDefaults() Options {
	if o.LowConfidence <= 0 {
		o.LowConfidence = DefaultLowConfidence
	}
	if o.ConfidenceGap <= 0 {
		o.ConfidenceGap = DefaultConfidenceGap
	}
	return o
}

// Consolidate groups records with DefaultOptions.
func Consolidate(records []model.MappingRecord) map[string]*model.ConsolidatedGroup {
	return ConsolidateWith(records, DefaultOptions())
}

// ConsolidateWith groups every non-error record under its clean name. Members
// keep input order, so the same records always produce the same groups.
func ConsolidateWith(records []model.MappingRecord, opts Options) map[string]*model.ConsolidatedGroup {
	opts = opts.withDefaults()

	groups := make(map[string]*model.ConsolidatedGroup)
	sums := make(map[string]float64)
	reported := make(map[string]int)

	for _, rec := range records {
		if rec.IsError() || rec.CleanName == "" {
			continue
		}
		g, ok := groups[rec.CleanName]
		if !ok {
			g = &model.ConsolidatedGroup{Key: rec.CleanName}
			groups[rec.CleanName] = g
		}

		flags := FlagsFor(rec, opts)
		g.Members = append(g.Members, model.GroupMember{
			MappingID: model.MappingIDOf(rec),
			Record:    rec,
			Flags:     flags,
		})
		g.AggregateFlags = g.AggregateFlags.Union(flags)
		g.MemberCount++

		if c, ok := rec.Confidence(); ok {
			sums[rec.CleanName] += c
			reported[rec.CleanName]++
		}
	}

	for key, g := range groups {
		if n := reported[key]; n > 0 {
			g.AverageConfidence = sums[key] / float64(n)
		}
	}
	return groups
}

// FlagsFor derives the attention flags of a single record. A record without
// a reported confidence counts as low confidence.
func FlagsFor(rec model.MappingRecord, opts Options) model.FlagSet {
	opts = opts.withDefaults()

	var flags model.FlagSet
	if c, ok := rec.Confidence(); !ok || c < opts.LowConfidence {
		flags = append(flags, model.FlagLowConfidence)
	}
	if rec.Ambiguous {
		flags = append(flags, model.FlagAmbiguous)
	}
	switch n := len(rec.Candidates); {
	case n == 1:
		flags = append(flags, model.FlagSingletonMapping)
	case n > 1:
		gap := rec.Candidates[0].Confidence - rec.Candidates[1].Confidence
		if gap > opts.ConfidenceGap+gapEpsilon {
			flags = append(flags, model.FlagHighConfidenceGap)
		}
	}
	if rec.SecondaryPipelineApplied {
		flags = append(flags, model.FlagSecondaryPipeline)
	}
	return model.FlagSet{}.Union(flags)
}

// gapEpsilon absorbs float noise so a gap of exactly the threshold
// (0.9 - 0.75) is not flagged.
const gapEpsilon = 1e-9

// Stats summarises one processed record set.
type Stats struct {
	TotalRecords      int     `json:"total_records" yaml:"total_records"`
	Successful        int     `json:"successful" yaml:"successful"`
	Errors            int     `json:"errors" yaml:"errors"`
	UniqueCleanNames  int     `json:"unique_clean_names" yaml:"unique_clean_names"`
	ConsolidationRate float64 `json:"consolidation_ratio" yaml:"consolidation_ratio"`
	FlaggedGroups     int     `json:"flagged_groups" yaml:"flagged_groups"`
	SecondaryApplied  int     `json:"secondary_pipeline_applied" yaml:"secondary_pipeline_applied"`
	SecondaryImproved int     `json:"secondary_pipeline_improved" yaml:"secondary_pipeline_improved"`
}

// Summarize computes run statistics. The consolidation ratio is total records
// over distinct non-error clean names, rounded to two decimals.
func Summarize(records []model.MappingRecord, groups map[string]*model.ConsolidatedGroup) Stats {
	s := Stats{TotalRecords: len(records), UniqueCleanNames: len(groups)}
	for _, rec := range records {
		if rec.IsError() {
			s.Errors++
			continue
		}
		s.Successful++
		if rec.SecondaryPipelineApplied {
			s.SecondaryApplied++
		}
		if rec.SecondaryPipelineImproved {
			s.SecondaryImproved++
		}
	}
	for _, g := range groups {
		if g.Flagged() {
			s.FlaggedGroups++
		}
	}
	if s.UniqueCleanNames > 0 {
		s.ConsolidationRate = math.Round(float64(s.TotalRecords)/float64(s.UniqueCleanNames)*100) / 100
	}
	return s
}
