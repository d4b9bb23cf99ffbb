// Package adapter defines the narrow interface a platform client must
// implement for the import engine to drive it. Adapters are thin
// translators: all orchestration (batching, cursors, throttling, checkpoint
// updates) lives in the engine, and nothing in the engine branches on which
// platform it is talking to.
package adapter

import (
	"context"
	"time"

	"github.com/chatvault/chatvault/internal/record"
)

// Identity is the authenticated self-identity reported once per session.
type Identity struct {
	NativeID    string
	DisplayName string
}

// Container is a top-level grouping of conversations (a Slack workspace, a
// Discord guild). Platforms without containers return a single synthetic one
// or none at all.
type Container struct {
	NativeID string
	Name     string
}

// Conversation is one fetchable unit of work: a channel, thread, archived
// thread, DM, or group.
type Conversation struct {
	NativeID     string
	Name         string
	Type         string // record.ThreadType* value
	ContainerID  string // parent container native id, empty if none
	Archived     bool
	Participants []string // native user ids, when the platform exposes them
}

// Raw is one native record as returned by pagination, before conversion.
// NativeID and Timestamp are the only fields the engine reads: the id feeds
// cursoring and canonical id derivation, the timestamp feeds time-window
// filtering. Payload is opaque adapter state passed back to Convert.
type Raw struct {
	NativeID  string
	Timestamp time.Time
	Payload   any
}

// Client is the platform surface the engine consumes.
type Client interface {
	// Platform returns the platform name used in canonical ids.
	Platform() string

	// Identity reports the authenticated user.
	Identity(ctx context.Context) (Identity, error)

	// ListContainers enumerates top-level containers. May return nil for
	// platforms without a container concept.
	ListContainers(ctx context.Context) ([]Container, error)

	// ListConversations enumerates the fetchable conversations of one
	// container, including sub-threads, and archived threads when asked.
	ListConversations(ctx context.Context, container Container, includeArchived bool) ([]Conversation, error)

	// ListDirectConversations enumerates DMs and group chats that live
	// outside any container.
	ListDirectConversations(ctx context.Context) ([]Conversation, error)

	// FetchPage returns up to limit native records of one conversation,
	// newest first. A non-empty before cursor restricts the page to records
	// strictly older than that native id.
	FetchPage(ctx context.Context, conv Conversation, before string, limit int) ([]Raw, error)

	// Convert translates one native record into a canonical message.
	Convert(raw Raw, conv Conversation) (*record.Message, error)

	// Account resolves a native user id into a canonical account. Called
	// lazily on first sighting of each sender.
	Account(ctx context.Context, nativeUserID string) (*record.Account, error)
}
