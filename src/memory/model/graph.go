package model

import (
	"errors"
	"strings"
)

// Relationship is a directed, typed edge between two memory ids. Both
// endpoints must already exist in the graph store when the edge is created.
type Relationship struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Validate ensures the relationship definition is usable.
func (r Relationship) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return errors.New("relationship source id is empty")
	}
	if strings.TrimSpace(r.TargetID) == "" {
		return errors.New("relationship target id is empty")
	}
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("relationship type is empty")
	}
	return nil
}

// RelatedMemory pairs a memory reached by traversal with the relationship
// type that connects it to the origin and the depth at which it was found.
type RelatedMemory struct {
	Memory           Memory `json:"memory"`
	RelationshipType string `json:"relationship_type"`
	Depth            int    `json:"depth"`
}

// TraversalOptions bounds a graph traversal.
type TraversalOptions struct {
	RelationshipTypes []string `json:"relationship_types,omitempty"`
	MaxDepth          int      `json:"max_depth"`
	Limit             int      `json:"limit"`
}

// Cluster is a derived grouping of memories sharing a detected theme. It has
// no lifecycle of its own and is recomputed on demand.
type Cluster struct {
	ID        string   `json:"id"`
	Theme     string   `json:"theme"`
	MemberIDs []string `json:"member_ids"`
}
