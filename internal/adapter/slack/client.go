// Package slack adapts a Slack workspace to the import engine. It reuses the
// cookie authentication of the local Slack desktop app, so no token setup is
// required.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rneatherway/slack"
	"go.uber.org/zap"

	"github.com/chatvault/chatvault/internal/adapter"
	"github.com/chatvault/chatvault/internal/canonical"
	"github.com/chatvault/chatvault/internal/record"
)

const platform = "slack"

// Client implements adapter.Client against the Slack web API.
type Client struct {
	api      *slack.Client
	team     string
	teamID   string
	teamName string
	identity adapter.Identity
	log      *zap.Logger
}

// New authenticates against the given workspace using cookies from the local
// Slack app and validates the session with auth.test.
func New(team string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	api := slack.NewClient(team)
	if err := api.WithCookieAuth(); err != nil {
		return nil, formatAuthError(err)
	}

	c := &Client{api: api, team: team, log: log}

	bs, err := c.call(context.Background(), "auth.test", nil)
	if err != nil {
		return nil, fmt.Errorf("authentication validation failed: %w", err)
	}
	var auth struct {
		Team   string `json:"team"`
		TeamID string `json:"team_id"`
		User   string `json:"user"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(bs, &auth); err != nil {
		return nil, fmt.Errorf("failed to parse auth.test response: %w", err)
	}

	c.teamID = auth.TeamID
	c.teamName = auth.Team
	c.identity = adapter.Identity{NativeID: auth.UserID, DisplayName: auth.User}
	return c, nil
}

// Platform returns the platform segment used in canonical ids.
func (c *Client) Platform() string { return platform }

// Identity reports the authenticated user from the auth.test handshake.
func (c *Client) Identity(ctx context.Context) (adapter.Identity, error) {
	return c.identity, nil
}

// ListContainers returns the single workspace this client is bound to.
func (c *Client) ListContainers(ctx context.Context) ([]adapter.Container, error) {
	return []adapter.Container{{NativeID: c.teamID, Name: c.teamName}}, nil
}

type channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsChannel  bool   `json:"is_channel"`
	IsGroup    bool   `json:"is_group"`
	IsIM       bool   `json:"is_im"`
	IsMpim     bool   `json:"is_mpim"`
	IsArchived bool   `json:"is_archived"`
	IsMember   bool   `json:"is_member"`
	User       string `json:"user"` // IM peer
}

// ListConversations enumerates channels the user is a member of, paging
// through conversations.list, and the threads anchored inside each of them.
func (c *Client) ListConversations(ctx context.Context, container adapter.Container, includeArchived bool) ([]adapter.Conversation, error) {
	params := map[string]string{
		"types":            "public_channel,private_channel",
		"exclude_archived": "true",
		"limit":            "1000",
	}
	if includeArchived {
		params["exclude_archived"] = "false"
	}

	channels, err := c.listChannels(ctx, params)
	if err != nil {
		return nil, err
	}

	var convs []adapter.Conversation
	for _, ch := range channels {
		if !ch.IsMember && !ch.IsArchived {
			continue
		}
		convs = append(convs, adapter.Conversation{
			NativeID:    ch.ID,
			Name:        ch.Name,
			Type:        record.ThreadTypeChannel,
			ContainerID: container.NativeID,
			Archived:    ch.IsArchived,
		})
		threads, err := c.listThreads(ctx, ch, container.NativeID)
		if err != nil {
			return nil, err
		}
		convs = append(convs, threads...)
	}
	return convs, nil
}

// listThreads walks a channel's history and surfaces every message that
// anchors replies as a conversation of its own. Replies never appear in
// conversations.history, so each anchor is paged separately later through
// conversations.replies.
func (c *Client) listThreads(ctx context.Context, ch channel, containerID string) ([]adapter.Conversation, error) {
	var threads []adapter.Conversation
	cursor := ""
	for {
		params := map[string]string{
			"channel": ch.ID,
			"limit":   "1000",
		}
		if cursor != "" {
			params["cursor"] = cursor
		}
		bs, err := c.call(ctx, "conversations.history", params)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s for threads: %w", ch.ID, err)
		}
		var response struct {
			Messages []historyMessage `json:"messages"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(bs, &response); err != nil {
			return nil, fmt.Errorf("failed to parse history for %s: %w", ch.ID, err)
		}
		threads = append(threads, threadsFromHistory(ch, containerID, response.Messages)...)
		cursor = response.Metadata.NextCursor
		if cursor == "" {
			return threads, nil
		}
	}
}

// threadsFromHistory picks the reply anchors out of one page of channel
// history.
func threadsFromHistory(ch channel, containerID string, msgs []historyMessage) []adapter.Conversation {
	var threads []adapter.Conversation
	for _, msg := range msgs {
		if msg.ReplyCount == 0 {
			continue
		}
		typ := record.ThreadTypeThread
		if ch.IsArchived {
			typ = record.ThreadTypeArchivedThread
		}
		threads = append(threads, adapter.Conversation{
			NativeID:    threadNativeID(ch.ID, msg.TS),
			Name:        fmt.Sprintf("%s thread %s", ch.Name, msg.TS),
			Type:        typ,
			ContainerID: containerID,
			Archived:    ch.IsArchived,
		})
	}
	return threads
}

// ListDirectConversations enumerates IMs and group DMs.
func (c *Client) ListDirectConversations(ctx context.Context) ([]adapter.Conversation, error) {
	channels, err := c.listChannels(ctx, map[string]string{
		"types": "im,mpim",
		"limit": "1000",
	})
	if err != nil {
		return nil, err
	}

	var convs []adapter.Conversation
	for _, ch := range channels {
		conv := adapter.Conversation{
			NativeID: ch.ID,
			Name:     ch.Name,
			Type:     record.ThreadTypeDM,
		}
		if ch.IsMpim {
			conv.Type = record.ThreadTypeGroup
		} else if ch.User != "" {
			conv.Participants = []string{ch.User}
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (c *Client) listChannels(ctx context.Context, params map[string]string) ([]channel, error) {
	var all []channel
	cursor := ""
	for {
		if cursor != "" {
			params["cursor"] = cursor
		}
		bs, err := c.call(ctx, "conversations.list", params)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		var response struct {
			Channels []channel `json:"channels"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(bs, &response); err != nil {
			return nil, fmt.Errorf("failed to parse conversations list: %w", err)
		}
		all = append(all, response.Channels...)
		cursor = response.Metadata.NextCursor
		if cursor == "" {
			return all, nil
		}
	}
}

type historyMessage struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	User       string `json:"user"`
	BotID      string `json:"bot_id"`
	Text       string `json:"text"`
	TS         string `json:"ts"`
	ThreadTS   string `json:"thread_ts,omitempty"`
	ReplyCount int    `json:"reply_count"`
}

// FetchPage returns up to limit messages of one conversation, newest first.
// Slack message ids carry no channel context of their own, so the native id
// handed to the engine is "<channel>_<ts>"; the ts part is split back out
// when a cursor comes in. Thread conversations page through
// conversations.replies instead of conversations.history.
func (c *Client) FetchPage(ctx context.Context, conv adapter.Conversation, before string, limit int) ([]adapter.Raw, error) {
	if isThreadType(conv.Type) {
		return c.fetchThreadPage(ctx, conv, before, limit)
	}

	params := map[string]string{
		"channel": conv.NativeID,
		"limit":   strconv.Itoa(limit),
	}
	if before != "" {
		// conversations.history treats latest as exclusive by default.
		params["latest"] = tsFromNativeID(before)
	}

	bs, err := c.call(ctx, "conversations.history", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", conv.NativeID, err)
	}
	var response struct {
		Messages []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(bs, &response); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	return c.rawsFromHistory(conv.NativeID, response.Messages), nil
}

func (c *Client) fetchThreadPage(ctx context.Context, conv adapter.Conversation, before string, limit int) ([]adapter.Raw, error) {
	channelID, threadTS, err := parseThreadNativeID(conv.NativeID)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"channel": channelID,
		"ts":      threadTS,
		"limit":   strconv.Itoa(limit),
	}
	if before != "" {
		params["latest"] = tsFromNativeID(before)
	}

	bs, err := c.call(ctx, "conversations.replies", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch replies for %s: %w", conv.NativeID, err)
	}
	var response struct {
		Messages []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(bs, &response); err != nil {
		return nil, fmt.Errorf("failed to parse replies for %s: %w", conv.NativeID, err)
	}
	return c.repliesToPage(channelID, threadTS, response.Messages), nil
}

// repliesToPage shapes a conversations.replies response to the FetchPage
// contract. Replies arrive oldest first with the anchor message in front; the
// anchor already came in through channel history, so only the replies
// survive, reordered newest first.
func (c *Client) repliesToPage(channelID, threadTS string, msgs []historyMessage) []adapter.Raw {
	page := c.rawsFromHistory(channelID, msgs)
	filtered := page[:0]
	for _, raw := range page {
		if tsFromNativeID(raw.NativeID) == threadTS {
			continue
		}
		filtered = append(filtered, raw)
	}
	for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	return filtered
}

func (c *Client) rawsFromHistory(channelID string, msgs []historyMessage) []adapter.Raw {
	page := make([]adapter.Raw, 0, len(msgs))
	for _, msg := range msgs {
		ts, err := parseSlackTS(msg.TS)
		if err != nil {
			c.log.Warn("skipping message with unparseable ts",
				zap.String("channel", channelID), zap.String("ts", msg.TS))
			continue
		}
		page = append(page, adapter.Raw{
			NativeID:  nativeMessageID(channelID, msg.TS),
			Timestamp: ts,
			Payload:   msg,
		})
	}
	return page
}

// Convert translates one history message into a canonical record.
func (c *Client) Convert(raw adapter.Raw, conv adapter.Conversation) (*record.Message, error) {
	msg, ok := raw.Payload.(historyMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for %s", raw.Payload, raw.NativeID)
	}

	sender := msg.User
	if sender == "" {
		sender = msg.BotID
	}
	if sender == "" {
		return nil, fmt.Errorf("message %s has no sender", raw.NativeID)
	}

	// Thread conversations carry a composite "<channel>:<ts>" id; permalinks
	// and reply references need the bare channel.
	channelID := conv.NativeID
	if isThreadType(conv.Type) {
		ch, _, err := parseThreadNativeID(conv.NativeID)
		if err != nil {
			return nil, err
		}
		channelID = ch
	}

	out := &record.Message{
		ID:        canonical.MessageID(platform, raw.NativeID),
		ThreadID:  canonical.ThreadID(platform, conv.Type, conv.NativeID),
		SenderID:  canonical.AccountID(platform, sender),
		Content:   msg.Text,
		Timestamp: raw.Timestamp,
		Source: record.Source{
			Platform:       platform,
			NativeID:       raw.NativeID,
			SenderNativeID: sender,
			URL:            c.permalink(channelID, msg.TS),
		},
	}
	if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
		out.ReplyToID = canonical.MessageID(platform, nativeMessageID(channelID, msg.ThreadTS))
	}
	if msg.Subtype != "" {
		out.Tags = map[string]string{"subtype": msg.Subtype}
	}
	return out, nil
}

// Account resolves a Slack user id via users.info. Bot senders have no user
// record; those fall back to a bare account.
func (c *Client) Account(ctx context.Context, nativeUserID string) (*record.Account, error) {
	if strings.HasPrefix(nativeUserID, "B") {
		return &record.Account{
			ID:       canonical.AccountID(platform, nativeUserID),
			Platform: platform,
			NativeID: nativeUserID,
		}, nil
	}

	bs, err := c.call(ctx, "users.info", map[string]string{"user": nativeUserID})
	if err != nil {
		return nil, fmt.Errorf("failed to get user info for %s: %w", nativeUserID, err)
	}
	var response struct {
		User struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			RealName string `json:"real_name"`
			Profile  struct {
				DisplayName string `json:"display_name"`
				Email       string `json:"email"`
			} `json:"profile"`
		} `json:"user"`
	}
	if err := json.Unmarshal(bs, &response); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}

	u := response.User
	display := u.RealName
	if display == "" {
		display = u.Profile.DisplayName
	}
	var handles []string
	if u.Name != "" {
		handles = append(handles, u.Name)
	}
	if u.Profile.Email != "" {
		handles = append(handles, u.Profile.Email)
	}
	return &record.Account{
		ID:          canonical.AccountID(platform, u.ID),
		Platform:    platform,
		NativeID:    u.ID,
		DisplayName: display,
		Handles:     handles,
	}, nil
}

// call issues one API request, retrying transparently when Slack rate-limits
// the session. Only rate limits retry; every other failure is permanent.
func (c *Client) call(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	var result []byte
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	err := backoff.Retry(func() error {
		bs, err := c.api.API(ctx, "GET", path, params, nil)
		if err != nil {
			if isRateLimited(err) {
				c.log.Warn("rate limited, backing off", zap.String("path", path))
				return err
			}
			return backoff.Permanent(err)
		}

		var status struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(bs, &status); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse %s response: %w", path, err))
		}
		if !status.OK {
			if status.Error == "ratelimited" {
				c.log.Warn("rate limited, backing off", zap.String("path", path))
				return fmt.Errorf("slack API rate limited on %s", path)
			}
			return backoff.Permanent(fmt.Errorf("slack API error on %s: %s", path, status.Error))
		}
		result = bs
		return nil
	}, policy)

	return result, err
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "ratelimited")
}

func (c *Client) permalink(channelID, ts string) string {
	return fmt.Sprintf("https://%s.slack.com/archives/%s/p%s",
		c.team, channelID, strings.ReplaceAll(ts, ".", ""))
}

func isThreadType(t string) bool {
	return t == record.ThreadTypeThread || t == record.ThreadTypeArchivedThread
}

func nativeMessageID(channelID, ts string) string {
	return channelID + "_" + ts
}

// threadNativeID composes an id for a thread sub-conversation, which has no
// Slack id of its own. The colon never occurs in channel ids or timestamps.
func threadNativeID(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

func parseThreadNativeID(nativeID string) (channelID, threadTS string, err error) {
	channelID, threadTS, ok := strings.Cut(nativeID, ":")
	if !ok || channelID == "" || threadTS == "" {
		return "", "", fmt.Errorf("malformed thread id %q", nativeID)
	}
	return channelID, threadTS, nil
}

// tsFromNativeID recovers the Slack ts from a "<channel>_<ts>" native id.
func tsFromNativeID(nativeID string) string {
	if i := strings.LastIndex(nativeID, "_"); i >= 0 {
		return nativeID[i+1:]
	}
	return nativeID
}

// parseSlackTS converts a "1700000000.123456" timestamp to UTC time.
func parseSlackTS(ts string) (time.Time, error) {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad slack ts %q: %w", ts, err)
	}
	var micros int64
	if frac != "" {
		micros, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad slack ts %q: %w", ts, err)
		}
	}
	return time.Unix(sec, micros*1000).UTC(), nil
}

// formatAuthError maps common cookie-auth failures to actionable messages.
func formatAuthError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "cookie database"):
		return fmt.Errorf("Slack cookie database not found. Are you logged into the Slack desktop app?\n  Original error: %v", err)
	case strings.Contains(msg, "no matching unlocked items found"):
		return fmt.Errorf("Slack cookie not found in keychain. Try logging out and back into the Slack desktop app.\n  Original error: %v", err)
	case strings.Contains(msg, "cookie password"):
		return fmt.Errorf("could not retrieve Slack cookie password from keychain. Check that the Slack app has keychain access.\n  Original error: %v", err)
	default:
		return fmt.Errorf("Slack authentication failed: %w", err)
	}
}
