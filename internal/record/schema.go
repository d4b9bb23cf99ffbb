package record

import "time"

// Thread types as stored in the archive. A "thread" here is any conversation
// container: what a thread means differs per platform (Slack channel, Discord
// guild thread, WhatsApp group, a DM), so the Type field carries the shape.
const (
	ThreadTypeChannel        = "channel"
	ThreadTypeThread         = "thread"
	ThreadTypeArchivedThread = "archived_thread"
	ThreadTypeDM             = "dm"
	ThreadTypeGroup          = "group"
)

// Account represents a participant identity scoped to one platform.
// Accounts are created lazily on first reference and updated on later
// sightings; they are never deleted.
type Account struct {
	ID          string   `json:"id"` // canonical id (platform + native user id)
	Platform    string   `json:"platform"`
	NativeID    string   `json:"native_id"`
	DisplayName string   `json:"display_name"`
	Handles     []string `json:"handles,omitempty"`
	IsSelf      bool     `json:"is_self"` // the importing user's own identity
}

// Thread represents a conversation container. MessageCount and LastActivity
// are derived projections, rebuilt at the end of a bulk import rather than
// updated per message.
type Thread struct {
	ID           string     `json:"id"` // canonical id (platform + type + native id)
	Platform     string     `json:"platform"`
	NativeID     string     `json:"native_id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Participants []string   `json:"participants,omitempty"` // account canonical ids
	MessageCount int64      `json:"message_count"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Message represents one communication event. Re-importing the same native
// message yields the same canonical ID, so the store's upsert-by-id makes
// re-imports duplicate-free without any separate dedup lookup.
type Message struct {
	ID        string            `json:"id"` // canonical id (platform + native message id)
	ThreadID  string            `json:"thread_id"`
	SenderID  string            `json:"sender_id"`
	Content   string            `json:"content"` // normalized text, embeds/attachments folded in
	Timestamp time.Time         `json:"timestamp"`
	ReplyToID string            `json:"reply_to_id,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"` // direction, media type, pinned, ...
	Source    Source            `json:"source"`
}

// Source records where a message came from.
type Source struct {
	Platform       string `json:"platform"`
	NativeID       string `json:"native_id"`
	SenderNativeID string `json:"sender_native_id,omitempty"`
	URL            string `json:"url,omitempty"`
}
