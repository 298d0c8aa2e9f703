// Package session provides persistence for kaiwa conversation sessions:
// the Session document, a file-lock-guarded Store for session CRUD and
// turn mutations, and the session index. Each session is one JSON file;
// every mutation is a single locked read-modify-write, and no in-memory
// Session is ever shared across processes.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/mizuki-ai/kaiwa/internal/turn"
)

// Reference points a session at an external file pulled into prompts.
type Reference struct {
	Path     string `json:"path"`
	TTL      int    `json:"ttl"`
	Disabled bool   `json:"disabled"`
	Persist  bool   `json:"persist"`
}

// Session is the full persisted record of one conversation. The ID may
// contain "/" to denote parent/child fork lineage; child sessions nest
// under their parent on disk.
type Session struct {
	SessionID                 string           `json:"session_id"`
	CreatedAt                 time.Time        `json:"created_at"`
	Purpose                   string           `json:"purpose"`
	Background                string           `json:"background"`
	Roles                     []string         `json:"roles,omitempty"`
	Turns                     *turn.Collection `json:"turns"`
	Pools                     *turn.Collection `json:"pools"`
	References                []Reference      `json:"references,omitempty"`
	Artifacts                 []string         `json:"artifacts,omitempty"`
	Hyperparameters           map[string]any   `json:"hyperparameters,omitempty"`
	MultiStepReasoningEnabled bool             `json:"multi_step_reasoning_enabled"`
	Procedure                 string           `json:"procedure,omitempty"`
	Todos                     []string         `json:"todos,omitempty"`
	CachedTurnCount           int              `json:"cached_turn_count"`
}

// New creates an empty session.
func New(id, purpose, background string) *Session {
	return &Session{
		SessionID:  id,
		CreatedAt:  time.Now().UTC(),
		Purpose:    purpose,
		Background: background,
		Turns:      turn.NewCollection(),
		Pools:      turn.NewCollection(),
	}
}

// normalize repairs nil collections after deserialization so callers can
// mutate without nil checks.
func (s *Session) normalize() {
	if s.Turns == nil {
		s.Turns = turn.NewCollection()
	}
	if s.Pools == nil {
		s.Pools = turn.NewCollection()
	}
}

// IsChild reports whether the session was forked from a parent.
func (s *Session) IsChild() bool {
	return strings.Contains(s.SessionID, "/")
}

// ParentID returns the ID of the parent session, or "" for a root session.
func (s *Session) ParentID() string {
	i := strings.LastIndex(s.SessionID, "/")
	if i < 0 {
		return ""
	}
	return s.SessionID[:i]
}

// ChildID derives the session ID for a fork of this session.
func (s *Session) ChildID(name string) string {
	return s.SessionID + "/" + name
}

// ValidateID rejects session IDs that would escape the sessions
// directory or collide with the store's own files.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("session ID cannot be empty")
	case strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/"):
		return fmt.Errorf("session ID cannot begin or end with '/': %q", id)
	case strings.Contains(id, "//"):
		return fmt.Errorf("session ID cannot contain empty segments: %q", id)
	case id == "index" || strings.HasPrefix(id, "index/"):
		return fmt.Errorf("session ID %q is reserved", id)
	}
	for _, seg := range strings.Split(id, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("session ID cannot contain path traversal: %q", id)
		}
	}
	return nil
}
