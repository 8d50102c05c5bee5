package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/loomwell/handover-backend/internal/logger"
)

// ChatSettings is the type-specific settings blob for chat-source.
type ChatSettings struct {
	Channels      []string `json:"channels,omitempty"` // empty = all joined channels
	ExpandThreads bool     `json:"expand_threads,omitempty"`
	MaxPerChannel int      `json:"max_per_channel,omitempty"`
}

type chatConnector struct {
	log      *logger.Logger
	api      *apiClient
	session  *oauthSession
	cfg      *oauth2.Config
	settings ChatSettings
	lookup   HashLookup
	baseURL  string

	// user-id -> display name, scoped per job so nothing leaks across tenants
	userCache map[string]string
}

// NewChatConnector iterates channels the bot is a member of and emits one
// document per top-level message, with thread replies appended when
// expand_threads is on.
func NewChatConnector(
	log *logger.Logger,
	creds []byte,
	settings []byte,
	lookup HashLookup,
	persistCreds func(ctx context.Context, creds []byte) error,
) (Connector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("connector", TypeChatSource)

	cfg := &oauth2.Config{
		ClientID:     os.Getenv("CHAT_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("CHAT_OAUTH_CLIENT_SECRET"),
		Scopes:       []string{"channels:history", "channels:read", "users:read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://slack.com/oauth/v2/authorize",
			TokenURL: "https://slack.com/api/oauth.v2.access",
		},
	}

	var s ChatSettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s); err != nil {
			return nil, fmt.Errorf("decode chat settings: %w", err)
		}
	}

	c := &chatConnector{
		log:       slog,
		cfg:       cfg,
		settings:  s,
		lookup:    lookup,
		baseURL:   strings.TrimRight(envDefault("CHAT_API_BASE_URL", "https://slack.com/api"), "/"),
		userCache: map[string]string{},
	}

	if len(creds) > 0 {
		session, err := newOAuthSession(cfg, creds, persistCreds)
		if err != nil {
			return nil, err
		}
		c.session = session
	}

	c.api = newAPIClient(slog, func(req *http.Request) {
		if c.session == nil {
			return
		}
		tok, err := c.session.AccessToken(req.Context())
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	})
	return c, nil
}

func (c *chatConnector) Type() string { return TypeChatSource }

func (c *chatConnector) AuthURL(redirect, state string) string {
	return oauthAuthURL(c.cfg, redirect, state)
}

func (c *chatConnector) ExchangeCode(ctx context.Context, code, redirect string) ([]byte, error) {
	return oauthExchange(ctx, c.cfg, code, redirect)
}

func (c *chatConnector) Connect(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("chat connector has no credentials")
	}
	var resp struct {
		OK    bool   `json:"ok"`
		Team  string `json:"team"`
		Error string `json:"error"`
	}
	if err := c.api.getJSON(ctx, c.baseURL+"/auth.test", &resp); err != nil {
		return fmt.Errorf("chat connect: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("chat connect: %s", resp.Error)
	}
	c.log.Info("Chat connector validated", "team", resp.Team)
	return nil
}

func (c *chatConnector) Test(ctx context.Context) bool {
	return c.Connect(ctx) == nil
}

func (c *chatConnector) Disconnect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	_, _ = c.api.do(ctx, "POST", c.baseURL+"/auth.revoke", nil)
	return nil
}

type chatChannel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
}

type chatMessage struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	User       string `json:"user"`
	BotID      string `json:"bot_id"`
	Text       string `json:"text"`
	TS         string `json:"ts"`
	ThreadTS   string `json:"thread_ts"`
	ReplyCount int    `json:"reply_count"`
}

func (c *chatConnector) Sync(ctx context.Context, since *time.Time, emit EmitFunc) (string, error) {
	channels, err := c.listJoinedChannels(ctx)
	if err != nil {
		return "", err
	}

	oldest := ""
	if since != nil {
		oldest = strconv.FormatInt(since.Unix(), 10) + ".000000"
	}

	var cursor string
	for _, ch := range channels {
		if len(c.settings.Channels) > 0 && !containsFold(c.settings.Channels, ch.Name) {
			continue
		}
		latest, err := c.syncChannel(ctx, ch, oldest, emit)
		if err != nil {
			return cursor, fmt.Errorf("chat channel %s: %w", ch.Name, err)
		}
		if latest > cursor {
			cursor = latest
		}
	}
	return cursor, nil
}

func (c *chatConnector) listJoinedChannels(ctx context.Context) ([]chatChannel, error) {
	out := []chatChannel{}
	pageCursor := ""
	for {
		u := c.baseURL + "/conversations.list?limit=200&types=public_channel,private_channel"
		if pageCursor != "" {
			u += "&cursor=" + url.QueryEscape(pageCursor)
		}
		var resp struct {
			OK       bool          `json:"ok"`
			Error    string        `json:"error"`
			Channels []chatChannel `json:"channels"`
			Meta     struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.api.getJSON(ctx, u, &resp); err != nil {
			return nil, err
		}
		if !resp.OK {
			return nil, fmt.Errorf("conversations.list: %s", resp.Error)
		}
		for _, ch := range resp.Channels {
			if ch.IsMember {
				out = append(out, ch)
			}
		}
		if resp.Meta.NextCursor == "" {
			return out, nil
		}
		pageCursor = resp.Meta.NextCursor
	}
}

var skippedSubtypes = map[string]bool{
	"bot_message":     true,
	"channel_join":    true,
	"channel_leave":   true,
	"group_join":      true,
	"group_leave":     true,
	"message_changed": false, // edits re-emit; dedup by hash handles no-ops
	"message_deleted": true,  // surfaced via tombstone below
}

func (c *chatConnector) syncChannel(ctx context.Context, ch chatChannel, oldest string, emit EmitFunc) (string, error) {
	var latest string
	emitted := 0
	pageCursor := ""

	for {
		u := c.baseURL + "/conversations.history?limit=200&channel=" + url.QueryEscape(ch.ID)
		if oldest != "" {
			u += "&oldest=" + url.QueryEscape(oldest)
		}
		if pageCursor != "" {
			u += "&cursor=" + url.QueryEscape(pageCursor)
		}

		var resp struct {
			OK       bool          `json:"ok"`
			Error    string        `json:"error"`
			Messages []chatMessage `json:"messages"`
			Meta     struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.api.getJSON(ctx, u, &resp); err != nil {
			return latest, err
		}
		if !resp.OK {
			return latest, fmt.Errorf("conversations.history: %s", resp.Error)
		}

		// history returns newest first; walk in time order
		for i := len(resp.Messages) - 1; i >= 0; i-- {
			m := resp.Messages[i]
			if m.TS > latest {
				latest = m.TS
			}
			if c.settings.MaxPerChannel > 0 && emitted >= c.settings.MaxPerChannel {
				return latest, nil
			}

			if m.Subtype == "message_deleted" {
				ev := Event{Tombstone: &Tombstone{
					Source:     SourceChat,
					ExternalID: ch.ID + "." + m.TS,
					DeletedAt:  tsToTime(m.TS),
				}}
				if err := emit(ev); err != nil {
					return latest, err
				}
				continue
			}
			if m.Type != "message" || m.BotID != "" || skippedSubtypes[m.Subtype] {
				continue
			}
			if strings.TrimSpace(m.Text) == "" {
				continue
			}

			doc, err := c.buildMessageDoc(ctx, ch, m)
			if err != nil {
				c.log.Warn("Chat message build failed; skipping", "channel", ch.Name, "ts", m.TS, "error", err.Error())
				continue
			}
			if doc == nil {
				continue // unchanged
			}
			if err := emit(Event{Doc: doc}); err != nil {
				return latest, err
			}
			emitted++
		}

		if resp.Meta.NextCursor == "" {
			return latest, nil
		}
		pageCursor = resp.Meta.NextCursor
	}
}

func (c *chatConnector) buildMessageDoc(ctx context.Context, ch chatChannel, m chatMessage) (*Document, error) {
	text := c.resolveMentions(ctx, m.Text)

	if c.settings.ExpandThreads && m.ReplyCount > 0 && (m.ThreadTS == "" || m.ThreadTS == m.TS) {
		replies, err := c.fetchThread(ctx, ch.ID, m.TS)
		if err != nil {
			c.log.Warn("Thread expansion failed; keeping parent only", "channel", ch.Name, "ts", m.TS, "error", err.Error())
		} else if len(replies) > 0 {
			var b strings.Builder
			b.WriteString(text)
			for _, r := range replies {
				b.WriteString("\n")
				b.WriteString(c.userName(ctx, r.User))
				b.WriteString(": ")
				b.WriteString(c.resolveMentions(ctx, r.Text))
			}
			text = b.String()
		}
	}

	externalID := ch.ID + "." + m.TS
	doc := finishDoc(&Document{
		Source:     SourceChat,
		ExternalID: externalID,
		Title:      "#" + ch.Name,
		Content:    text,
		Author:     c.userName(ctx, m.User),
		DocType:    "chat_message",
		Timestamp:  tsToTime(m.TS),
		Metadata: map[string]any{
			"channel_id":   ch.ID,
			"channel_name": ch.Name,
			"thread_ts":    m.ThreadTS,
		},
	})

	if c.lookup != nil {
		if stored, ok, err := c.lookup(ctx, externalID); err == nil && ok && stored == doc.ContentSHA1 {
			return nil, nil
		}
	}
	return doc, nil
}

func (c *chatConnector) fetchThread(ctx context.Context, channelID, ts string) ([]chatMessage, error) {
	u := c.baseURL + "/conversations.replies?limit=200&channel=" + url.QueryEscape(channelID) + "&ts=" + url.QueryEscape(ts)
	var resp struct {
		OK       bool          `json:"ok"`
		Error    string        `json:"error"`
		Messages []chatMessage `json:"messages"`
	}
	if err := c.api.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("conversations.replies: %s", resp.Error)
	}
	// first message is the parent itself
	if len(resp.Messages) > 1 {
		return resp.Messages[1:], nil
	}
	return nil, nil
}

var mentionRe = regexp.MustCompile(`<@([A-Z0-9]+)>`)

func (c *chatConnector) resolveMentions(ctx context.Context, text string) string {
	return mentionRe.ReplaceAllStringFunc(text, func(m string) string {
		id := mentionRe.FindStringSubmatch(m)[1]
		return "@" + c.userName(ctx, id)
	})
}

func (c *chatConnector) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	if name, ok := c.userCache[userID]; ok {
		return name
	}

	var resp struct {
		OK   bool `json:"ok"`
		User struct {
			Name    string `json:"name"`
			Profile struct {
				DisplayName string `json:"display_name"`
				RealName    string `json:"real_name"`
			} `json:"profile"`
		} `json:"user"`
	}
	name := userID
	if err := c.api.getJSON(ctx, c.baseURL+"/users.info?user="+url.QueryEscape(userID), &resp); err == nil && resp.OK {
		switch {
		case resp.User.Profile.DisplayName != "":
			name = resp.User.Profile.DisplayName
		case resp.User.Profile.RealName != "":
			name = resp.User.Profile.RealName
		case resp.User.Name != "":
			name = resp.User.Name
		}
	}
	c.userCache[userID] = name
	return name
}

func (c *chatConnector) Fetch(ctx context.Context, externalID string) (*Document, error) {
	// external id is "<channel_id>.<ts>"; ts itself contains one dot
	idx := strings.Index(externalID, ".")
	if idx <= 0 {
		return nil, fmt.Errorf("bad chat external id: %q", externalID)
	}
	channelID := externalID[:idx]
	ts := externalID[idx+1:]

	u := c.baseURL + "/conversations.history?limit=1&inclusive=true&channel=" + url.QueryEscape(channelID) + "&latest=" + url.QueryEscape(ts)
	var resp struct {
		OK       bool          `json:"ok"`
		Error    string        `json:"error"`
		Messages []chatMessage `json:"messages"`
	}
	if err := c.api.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if !resp.OK || len(resp.Messages) == 0 {
		return nil, fmt.Errorf("chat message not found: %s", externalID)
	}

	ch := chatChannel{ID: channelID, Name: channelID}
	saveLookup := c.lookup
	c.lookup = nil // rehydration is unconditional
	defer func() { c.lookup = saveLookup }()
	return c.buildMessageDoc(ctx, ch, resp.Messages[0])
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(strings.TrimPrefix(h, "#"), strings.TrimPrefix(needle, "#")) {
			return true
		}
	}
	return false
}

func tsToTime(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
