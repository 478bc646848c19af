package domain

import (
	"context"
	"time"
)

// NoticeKind categorises a non-blocking notification.
type NoticeKind string

const (
	NoticeQualityRejected       NoticeKind = "quality_rejected"
	NoticeForcedAccept          NoticeKind = "forced_accept"
	NoticeOrphanCleared         NoticeKind = "orphan_cleared"
	NoticeStageRollback         NoticeKind = "stage_rollback"
	NoticeJumpRejected          NoticeKind = "jump_rejected"
	NoticePersistPermanent      NoticeKind = "persist_permanent"
	NoticePersistTransient      NoticeKind = "persist_transient"
	NoticeGenerationUnavailable NoticeKind = "generation_unavailable"
	NoticeRecovered             NoticeKind = "recovered"
)

// Notice is delivered through the notification channel; it never halts a session.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	SessionID string     `json:"session_id,omitempty"`
	Field     string     `json:"field,omitempty"`
	Message   string     `json:"message"`
	At        time.Time  `json:"at"`
}

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventCommit      EventType = "commit"
	EventStageChange EventType = "stage_change"
	EventNotice      EventType = "notice"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// CommitEvent is emitted when a field is confirmed.
type CommitEvent struct {
	EventBase
	Field  string `json:"field"`
	Forced bool   `json:"forced,omitempty"`
}

// StageEvent is emitted when the active stage changes.
type StageEvent struct {
	EventBase
	From     StageID `json:"from"`
	To       StageID `json:"to"`
	Rollback bool    `json:"rollback,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnCommit      func(context.Context, *CommitEvent)
	OnStageChange func(context.Context, *StageEvent)
	OnNotice      func(context.Context, *Notice)
}
