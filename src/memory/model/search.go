package model

// SearchOptions narrows a similarity search. Metadata predicates are exact
// matches against payload fields; zero values mean "no filter".
type SearchOptions struct {
	Type      MemoryType     `json:"type,omitempty"`
	Workspace string         `json:"workspace,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Limit     int            `json:"limit,omitempty"`
}

// ScoredMemory is a search hit with its similarity score.
type ScoredMemory struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
}

// SearchResult is the facade-level search response.
type SearchResult struct {
	Memories []ScoredMemory `json:"memories"`
	Total    int            `json:"total"`
}
