package review

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/cases"

	"github.com/sells-group/examclean/internal/model"
)

// StatusFilter narrows groups by the review state of their members.
type StatusFilter string

const (
	StatusAll StatusFilter = "all"
	// StatusPending keeps groups with at least one pending member.
	StatusPending StatusFilter = "pending"
	// StatusReviewed keeps groups whose members are all reviewed.
	StatusReviewed StatusFilter = "reviewed"
)

// SortMode orders the projected groups. Ties are broken by group key.
type SortMode string

const (
	SortFlaggedFirst  SortMode = "flagged"
	SortSizeDesc      SortMode = "size"
	SortConfidenceAsc SortMode = "confidence"
	SortAlphabetical  SortMode = "alphabetical"
)

// ToolbarState is the operator's current filter, search and sort selection.
// Every filter is conjunctive; zero values disable a filter.
type ToolbarState struct {
	Flags  []model.AttentionFlag `json:"flags,omitempty"`
	Status StatusFilter          `json:"status,omitempty"`
	Search string                `json:"search,omitempty"`
	Fuzzy  bool                  `json:"fuzzy,omitempty"`
	// ConfidenceThreshold keeps groups whose average confidence is below it.
	ConfidenceThreshold float64  `json:"confidence_threshold,omitempty"`
	Sort                SortMode `json:"sort,omitempty"`
}

// Counts tallies member decisions inside one group.
type Counts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Skipped  int `json:"skipped"`
	Modified int `json:"modified"`
}

// MemberView is the display model of one group member.
type MemberView struct {
	MappingID    string             `json:"mapping_id"`
	DataSource   string             `json:"data_source"`
	ExamCode     string             `json:"exam_code"`
	ExamName     string             `json:"exam_name"`
	ModalityCode string             `json:"modality_code"`
	Confidence   *float64           `json:"confidence,omitempty"`
	Flags        model.FlagSet      `json:"flags,omitempty"`
	Status       model.ReviewStatus `json:"status"`
	Decision     model.Decision     `json:"decision,omitempty"`
	Notes        string             `json:"notes,omitempty"`
}

// GroupView is the display model of one consolidated group.
type GroupView struct {
	Key               string        `json:"key"`
	MemberCount       int           `json:"member_count"`
	AverageConfidence float64       `json:"average_confidence"`
	Flags             model.FlagSet `json:"flags,omitempty"`
	Counts            Counts        `json:"counts"`
	Members           []MemberView  `json:"members"`
}

// LookupFunc resolves the review entry of a mapping id.
type LookupFunc func(id string) (model.ValidationEntry, bool)

// Query projects groups through the toolbar state. It reads entries through
// lookup and never mutates anything, so identical inputs give identical
// output.
func Query(groups map[string]*model.ConsolidatedGroup, lookup LookupFunc, ts ToolbarState) []GroupView {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fuzzyHits map[string]bool
	search := strings.TrimSpace(ts.Search)
	if search != "" && ts.Fuzzy {
		fuzzyHits = fuzzyMatches(groups, keys, search)
	}

	views := make([]GroupView, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		if !matchesFlags(g, ts.Flags) {
			continue
		}
		if ts.ConfidenceThreshold > 0 && g.AverageConfidence >= ts.ConfidenceThreshold {
			continue
		}
		if search != "" {
			if fuzzyHits != nil {
				if !fuzzyHits[k] {
					continue
				}
			} else if !matchesText(g, search) {
				continue
			}
		}

		v := project(g, lookup)
		if !matchesStatus(v, ts.Status) {
			continue
		}
		views = append(views, v)
	}

	sortViews(views, ts.Sort)
	return views
}

func project(g *model.ConsolidatedGroup, lookup LookupFunc) GroupView {
	v := GroupView{
		Key:               g.Key,
		MemberCount:       g.MemberCount,
		AverageConfidence: g.AverageConfidence,
		Flags:             g.AggregateFlags,
		Members:           make([]MemberView, 0, len(g.Members)),
	}
	for _, mem := range g.Members {
		mv := MemberView{
			MappingID:    mem.MappingID,
			DataSource:   mem.Record.DataSource,
			ExamCode:     mem.Record.ExamCode,
			ExamName:     mem.Record.ExamName,
			ModalityCode: mem.Record.ModalityCode,
			Confidence:   mem.Record.Components.Confidence,
			Flags:        mem.Flags,
			Status:       model.StatusPendingReview,
		}
		if lookup != nil {
			if e, ok := lookup(mem.MappingID); ok {
				mv.Status = e.Status
				mv.Decision = e.Decision
				mv.Notes = e.Notes
			}
		}
		v.Counts.add(mv)
		v.Members = append(v.Members, mv)
	}
	return v
}

func (c *Counts) add(mv MemberView) {
	if mv.Status != model.StatusReviewed {
		c.Pending++
		return
	}
	switch mv.Decision {
	case model.DecisionApprove:
		c.Approved++
	case model.DecisionReject:
		c.Rejected++
	case model.DecisionSkip:
		c.Skipped++
	case model.DecisionModify:
		c.Modified++
	default:
		c.Pending++
	}
}

func matchesFlags(g *model.ConsolidatedGroup, flags []model.AttentionFlag) bool {
	if len(flags) == 0 {
		return true
	}
	for _, f := range flags {
		if g.AggregateFlags.Has(f) {
			return true
		}
	}
	return false
}

func matchesStatus(v GroupView, f StatusFilter) bool {
	switch f {
	case StatusPending:
		return v.Counts.Pending > 0
	case StatusReviewed:
		return v.Counts.Pending == 0
	default:
		return true
	}
}

func matchesText(g *model.ConsolidatedGroup, search string) bool {
	fold := cases.Fold()
	needle := fold.String(search)
	if strings.Contains(fold.String(g.Key), needle) {
		return true
	}
	for _, mem := range g.Members {
		if strings.Contains(fold.String(mem.Record.ExamName), needle) ||
			strings.Contains(fold.String(mem.Record.ExamCode), needle) {
			return true
		}
	}
	return false
}

// fuzzyMatches returns the keys of groups whose key, or any member exam name
// or code, fuzzy-matches the search.
func fuzzyMatches(groups map[string]*model.ConsolidatedGroup, keys []string, search string) map[string]bool {
	var (
		haystack []string
		owner    []string
	)
	for _, k := range keys {
		haystack = append(haystack, k)
		owner = append(owner, k)
		for _, mem := range groups[k].Members {
			haystack = append(haystack, mem.Record.ExamName, mem.Record.ExamCode)
			owner = append(owner, k, k)
		}
	}

	hits := make(map[string]bool)
	for _, m := range fuzzy.Find(search, haystack) {
		hits[owner[m.Index]] = true
	}
	return hits
}

func sortViews(views []GroupView, mode SortMode) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		switch mode {
		case SortFlaggedFirst:
			af, bf := len(a.Flags) > 0, len(b.Flags) > 0
			if af != bf {
				return af
			}
		case SortSizeDesc:
			if a.MemberCount != b.MemberCount {
				return a.MemberCount > b.MemberCount
			}
		case SortConfidenceAsc:
			if a.AverageConfidence != b.AverageConfidence {
				return a.AverageConfidence < b.AverageConfidence
			}
		}
		return a.Key < b.Key
	})
}
