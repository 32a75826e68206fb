// Package model holds the canonical memory shapes shared by every backend
// adapter. Raw store results are mapped into these types exactly once, at the
// adapter boundary.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MemoryType enumerates the supported memory categories.
type MemoryType string

const (
	// TypeSystem1 holds short-term, fast-recall memories.
	TypeSystem1 MemoryType = "system1"
	// TypeSystem2 holds long-term, deliberate memories.
	TypeSystem2 MemoryType = "system2"
	// TypeWorkspace holds memories scoped to a single workspace.
	TypeWorkspace MemoryType = "workspace"
)

var validMemoryTypes = map[MemoryType]struct{}{
	TypeSystem1:   {},
	TypeSystem2:   {},
	TypeWorkspace: {},
}

// Memory is the single entity persisted across the graph, vector, relational
// and cache backends. The relational store is the system of record for its
// core fields; the vector store owns only the embedding-to-id mapping.
type Memory struct {
	ID        string         `json:"id"`
	Type      MemoryType     `json:"type"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Workspace string         `json:"workspace,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Validate ensures the memory satisfies the persistence invariants: non-empty
// id and content, and a known type. It never touches a store.
func (m Memory) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("memory id is empty")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("memory content is empty")
	}
	if _, ok := validMemoryTypes[m.Type]; !ok {
		return fmt.Errorf("unsupported memory type %q", m.Type)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (m Memory) Clone() Memory {
	out := m
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.Metadata = CloneMetadata(m.Metadata)
	return out
}

// Update describes a partial mutation of a memory. Nil fields are left
// untouched by every backend (SET semantics, merge not replace).
type Update struct {
	Type      *MemoryType    `json:"type,omitempty"`
	Content   *string        `json:"content,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Workspace *string        `json:"workspace,omitempty"`
}

// IsZero reports whether the update carries no changes.
func (u Update) IsZero() bool {
	return u.Type == nil && u.Content == nil && len(u.Embedding) == 0 &&
		u.Metadata == nil && u.Workspace == nil
}

// Apply merges the update into a copy of m and stamps updatedAt.
func (u Update) Apply(m Memory, updatedAt time.Time) Memory {
	out := m.Clone()
	if u.Type != nil {
		out.Type = *u.Type
	}
	if u.Content != nil {
		out.Content = *u.Content
	}
	if len(u.Embedding) > 0 {
		out.Embedding = append([]float32(nil), u.Embedding...)
	}
	if u.Metadata != nil {
		out.Metadata = CloneMetadata(u.Metadata)
	}
	if u.Workspace != nil {
		out.Workspace = *u.Workspace
	}
	out.UpdatedAt = updatedAt.UTC()
	return out
}
