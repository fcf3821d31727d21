package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// UsageStatus is the lifecycle tag on a usage record. The numeric values
// are persisted, so the order must not change.
type UsageStatus int

const (
	UsageInitialized UsageStatus = iota
	UsageLaunched
	UsageFailed
	UsageSent
)

func (s UsageStatus) String() string {
	switch s {
	case UsageInitialized:
		return "initialized"
	case UsageLaunched:
		return "launched"
	case UsageFailed:
		return "failed"
	case UsageSent:
		return "sent"
	default:
		return "unknown"
	}
}

// UsageRecord is the accounting row for one bot invocation. Token counts
// are nil until the remote call succeeds.
type UsageRecord struct {
	ID                       int64
	UserID                   int64
	Status                   UsageStatus
	PromptTokensConsumed     *int64
	CompletionTokensConsumed *int64
	TotalTokensConsumed      *int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// UserUsage is one row of the top-users statistic.
type UserUsage struct {
	UserID       int64  `json:"id"`
	Username     string `json:"username"`
	Interactions int64  `json:"-"`
}

type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Turn kinds mirror the two conversation surfaces a reply can be
// triggered from.
const (
	TurnKindPost    = "post"
	TurnKindMessage = "message"
)

// Turn is one authored message or post in a conversation thread.
type Turn struct {
	ID          int64
	ChannelID   int64
	UserID      int64
	Kind        string
	Content     string
	InReplyToID *int64
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
