package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotParticipant rejects writes from agents outside the session.
	ErrNotParticipant = errors.New("agent is not a session participant")

	// ErrSessionClosed rejects writes to a session that is not active.
	ErrSessionClosed = errors.New("session is not active")
)

// Session statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ContextEntry is one shared-context value with write attribution.
// Writes are last-writer-wins per key.
type ContextEntry struct {
	Value     interface{} `json:"value"`
	UpdatedBy string      `json:"updated_by"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Message is one append-only entry of the communication log.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // info, handoff, resource_share, session_end, ...
}

// Session is a shared-context and messaging scope for a set of cooperating
// agents working a common objective.
type Session struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	SessionType  string   `json:"session_type"`
	Objective    string   `json:"objective"`
	CreatedBy    string   `json:"created_by"`
	Participants []string `json:"participants"`
	Status       string   `json:"status"`

	SharedContext    map[string]ContextEntry `json:"shared_context"`
	CommunicationLog []Message               `json:"communication_log"`
	SharedResources  []string                `json:"shared_resources"`

	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt time.Time              `json:"expires_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IsExpired reports whether the session passed its TTL.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Terminal reports whether the session reached a final status.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

// HasParticipant reports whether the agent role takes part in the session.
func (s *Session) HasParticipant(role string) bool {
	for _, p := range s.Participants {
		if p == role {
			return true
		}
	}
	return false
}

// Stats summarizes collaboration activity within a session.
type Stats struct {
	SessionID            string         `json:"session_id"`
	Duration             time.Duration  `json:"duration"`
	TotalMessages        int            `json:"total_messages"`
	MessagesByAgent      map[string]int `json:"messages_by_agent"`
	MessageTypes         map[string]int `json:"message_types"`
	ContextUpdates       int            `json:"context_updates"`
	SharedResources      int            `json:"shared_resources"`
	ActiveParticipants   int            `json:"active_participants"`
	ParticipationBalance float64        `json:"participation_balance"`
}
