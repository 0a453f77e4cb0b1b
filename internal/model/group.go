package model

// GroupMember is one record inside a consolidated group.
type GroupMember struct {
	MappingID string        `json:"mapping_id"`
	Record    MappingRecord `json:"record"`
	Flags     FlagSet       `json:"flags,omitempty"`
}

// ConsolidatedGroup gathers every record that cleaned to the same label.
type ConsolidatedGroup struct {
	Key               string        `json:"key"`
	Members           []GroupMember `json:"members"`
	AggregateFlags    FlagSet       `json:"aggregate_flags,omitempty"`
	MemberCount       int           `json:"member_count"`
	AverageConfidence float64       `json:"average_confidence"`
}

// MappingIDs returns the member mapping ids in member order.
func (g *ConsolidatedGroup) MappingIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.MappingID
	}
	return ids
}

// Flagged reports whether any member carries an attention flag.
func (g *ConsolidatedGroup) Flagged() bool {
	return len(g.AggregateFlags) > 0
}
