// Package conversations stores per-user conversation documents.
package conversations

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	maxTitleLength   = 200
)

var (
	// ErrNotFound is returned when the conversation does not exist or
	// belongs to another user.
	ErrNotFound = errors.New("conversations: not found")
	// ErrInvalid marks input rejected before it reaches the database.
	ErrInvalid = errors.New("conversations: invalid input")
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return errors.Wrapf(ErrInvalid, "invalid role %q", m.Role)
	}
	if m.Content == "" && m.Role != RoleSystem {
		return errors.Wrap(ErrInvalid, "content is required")
	}
	return nil
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is a list entry; it carries no message bodies.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Repository is the document store behind the conversation routes. Every
// call is scoped to a user; a conversation owned by someone else reads as
// ErrNotFound.
type Repository interface {
	List(ctx context.Context, userID string, limit int) ([]Summary, error)
	Get(ctx context.Context, userID, id string) (*Conversation, error)
	Create(ctx context.Context, c Conversation) (*Conversation, error)
	AppendMessage(ctx context.Context, userID, id string, m Message) (*Conversation, error)
	Delete(ctx context.Context, userID, id string) error
	Close() error
}

// ClampLimit maps a requested page size into [1, MaxListLimit], with
// non-positive values meaning DefaultListLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func validateNew(c Conversation) error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.Wrap(ErrInvalid, "user id is required")
	}
	if len(c.Title) > maxTitleLength {
		return errors.Wrapf(ErrInvalid, "title too long (%d bytes, max %d)", len(c.Title), maxTitleLength)
	}
	for i, m := range c.Messages {
		if err := m.Validate(); err != nil {
			return errors.Wrapf(err, "messages[%d]", i)
		}
	}
	return nil
}
