package connectors

import (
	"context"
	"encoding/base64"
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

// EmailSettings is the type-specific settings blob for email-source.
type EmailSettings struct {
	Labels      []string `json:"labels,omitempty"`       // default INBOX
	MaxMessages int      `json:"max_messages,omitempty"` // 0 = unlimited
}

type emailConnector struct {
	log      *logger.Logger
	api      *apiClient
	session  *oauthSession
	cfg      *oauth2.Config
	settings EmailSettings
	lookup   HashLookup
	baseURL  string
}

// NewEmailConnector pages through mailbox messages per label and flattens
// each message body to text. persistCreds is called when a token refresh
// rotates the stored credentials.
func NewEmailConnector(
	log *logger.Logger,
	creds []byte,
	settings []byte,
	lookup HashLookup,
	persistCreds func(ctx context.Context, creds []byte) error,
) (Connector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("connector", TypeEmailSource)

	cfg := emailOAuthConfig()

	var s EmailSettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s); err != nil {
			return nil, fmt.Errorf("decode email settings: %w", err)
		}
	}
	if len(s.Labels) == 0 {
		s.Labels = []string{"INBOX"}
	}

	c := &emailConnector{
		log:      slog,
		cfg:      cfg,
		settings: s,
		lookup:   lookup,
		baseURL:  strings.TrimRight(envDefault("EMAIL_API_BASE_URL", "https://gmail.googleapis.com"), "/"),
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

func emailOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     os.Getenv("EMAIL_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("EMAIL_OAUTH_CLIENT_SECRET"),
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (c *emailConnector) Type() string { return TypeEmailSource }

func (c *emailConnector) AuthURL(redirect, state string) string {
	return oauthAuthURL(c.cfg, redirect, state)
}

func (c *emailConnector) ExchangeCode(ctx context.Context, code, redirect string) ([]byte, error) {
	return oauthExchange(ctx, c.cfg, code, redirect)
}

func (c *emailConnector) Connect(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("email connector has no credentials")
	}
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.api.getJSON(ctx, c.baseURL+"/gmail/v1/users/me/profile", &profile); err != nil {
		return fmt.Errorf("email connect: %w", err)
	}
	c.log.Info("Email connector validated", "address", profile.EmailAddress)
	return nil
}

func (c *emailConnector) Test(ctx context.Context) bool {
	return c.Connect(ctx) == nil
}

func (c *emailConnector) Disconnect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	tok, err := c.session.AccessToken(ctx)
	if err != nil {
		return nil
	}
	// best effort revoke
	_, _ = c.api.do(ctx, "POST", "https://oauth2.googleapis.com/revoke?token="+url.QueryEscape(tok), nil)
	return nil
}

type emailListResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type emailMessage struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	HistoryID    string `json:"historyId"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		MimeType string            `json:"mimeType"`
		Headers  []emailHeader     `json:"headers"`
		Body     emailMessageBody  `json:"body"`
		Parts    []emailMessagePart `json:"parts"`
	} `json:"payload"`
}

type emailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type emailMessageBody struct {
	Data string `json:"data"`
	Size int    `json:"size"`
}

type emailMessagePart struct {
	MimeType string            `json:"mimeType"`
	Body     emailMessageBody  `json:"body"`
	Parts    []emailMessagePart `json:"parts"`
}

func (c *emailConnector) Sync(ctx context.Context, since *time.Time, emit EmitFunc) (string, error) {
	var cursor string
	total := 0

	for _, label := range c.settings.Labels {
		pageToken := ""
		for {
			u := c.baseURL + "/gmail/v1/users/me/messages?maxResults=100&labelIds=" + url.QueryEscape(label)
			if since != nil {
				u += "&q=" + url.QueryEscape("after:"+strconv.FormatInt(since.Unix(), 10))
			}
			if pageToken != "" {
				u += "&pageToken=" + url.QueryEscape(pageToken)
			}

			var page emailListResponse
			if err := c.api.getJSON(ctx, u, &page); err != nil {
				return cursor, fmt.Errorf("email list (label=%s): %w", label, err)
			}

			for _, m := range page.Messages {
				if c.settings.MaxMessages > 0 && total >= c.settings.MaxMessages {
					return cursor, nil
				}
				doc, historyID, err := c.fetchMessage(ctx, m.ID)
				if err != nil {
					c.log.Warn("Email message fetch failed; skipping", "message_id", m.ID, "error", err.Error())
					continue
				}
				if historyID > cursor {
					cursor = historyID
				}
				if doc == nil {
					continue // unchanged or empty
				}
				if err := emit(Event{Doc: doc}); err != nil {
					return cursor, err
				}
				total++
			}

			if page.NextPageToken == "" {
				break
			}
			pageToken = page.NextPageToken
		}
	}
	return cursor, nil
}

// SyncSinceHistory consumes an externally delivered history id (push
// notification mode) and yields only messages added after it.
func (c *emailConnector) SyncSinceHistory(ctx context.Context, historyID string, emit EmitFunc) (string, error) {
	cursor := historyID
	pageToken := ""
	for {
		u := c.baseURL + "/gmail/v1/users/me/history?historyTypes=messageAdded&startHistoryId=" + url.QueryEscape(historyID)
		if pageToken != "" {
			u += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var page struct {
			History []struct {
				ID            string `json:"id"`
				MessagesAdded []struct {
					Message struct {
						ID string `json:"id"`
					} `json:"message"`
				} `json:"messagesAdded"`
			} `json:"history"`
			HistoryID     string `json:"historyId"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.api.getJSON(ctx, u, &page); err != nil {
			return cursor, fmt.Errorf("email history list: %w", err)
		}
		if page.HistoryID > cursor {
			cursor = page.HistoryID
		}

		for _, h := range page.History {
			for _, added := range h.MessagesAdded {
				doc, hid, err := c.fetchMessage(ctx, added.Message.ID)
				if err != nil {
					c.log.Warn("Email history fetch failed; skipping", "message_id", added.Message.ID, "error", err.Error())
					continue
				}
				if hid > cursor {
					cursor = hid
				}
				if doc == nil {
					continue
				}
				if err := emit(Event{Doc: doc}); err != nil {
					return cursor, err
				}
			}
		}

		if page.NextPageToken == "" {
			return cursor, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *emailConnector) Fetch(ctx context.Context, externalID string) (*Document, error) {
	doc, _, err := c.fetchMessageUnconditional(ctx, externalID)
	return doc, err
}

// fetchMessage returns (nil, historyID, nil) when the stored hash matches.
func (c *emailConnector) fetchMessage(ctx context.Context, id string) (*Document, string, error) {
	doc, historyID, err := c.fetchMessageUnconditional(ctx, id)
	if err != nil || doc == nil {
		return nil, historyID, err
	}
	if c.lookup != nil {
		if stored, ok, lErr := c.lookup(ctx, doc.ExternalID); lErr == nil && ok && stored == doc.ContentSHA1 {
			return nil, historyID, nil
		}
	}
	return doc, historyID, nil
}

func (c *emailConnector) fetchMessageUnconditional(ctx context.Context, id string) (*Document, string, error) {
	var msg emailMessage
	u := c.baseURL + "/gmail/v1/users/me/messages/" + url.PathEscape(id) + "?format=full"
	if err := c.api.getJSON(ctx, u, &msg); err != nil {
		return nil, "", err
	}

	subject := headerValue(msg.Payload.Headers, "Subject")
	from := headerValue(msg.Payload.Headers, "From")

	body := flattenMIME(msg.Payload.MimeType, msg.Payload.Body, msg.Payload.Parts)
	body = StripQuotedReplies(body)
	if strings.TrimSpace(body) == "" {
		return nil, msg.HistoryID, nil
	}

	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}

	doc := finishDoc(&Document{
		Source:     SourceEmail,
		ExternalID: msg.ID,
		Title:      subject,
		Content:    body,
		Author:     from,
		DocType:    "email",
		Timestamp:  ts,
		Metadata: map[string]any{
			"thread_id": msg.ThreadID,
			"from":      from,
		},
	})
	return doc, msg.HistoryID, nil
}

func headerValue(headers []emailHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// flattenMIME walks the part tree preferring text/plain, falling back to
// text/html stripped of tags.
func flattenMIME(mimeType string, body emailMessageBody, parts []emailMessagePart) string {
	if plain := collectParts(mimeType, body, parts, "text/plain"); plain != "" {
		return plain
	}
	if html := collectParts(mimeType, body, parts, "text/html"); html != "" {
		return stripHTMLTags(html)
	}
	return ""
}

func collectParts(mimeType string, body emailMessageBody, parts []emailMessagePart, want string) string {
	var out strings.Builder

	if strings.HasPrefix(mimeType, want) && body.Data != "" {
		if decoded := decodeBase64URL(body.Data); decoded != "" {
			out.WriteString(decoded)
		}
	}
	for _, p := range parts {
		sub := collectParts(p.MimeType, p.Body, p.Parts, want)
		if sub == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString(sub)
	}
	return out.String()
}

func decodeBase64URL(s string) string {
	b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return ""
	}
	return string(b)
}

var (
	replyMarkerRe  = regexp.MustCompile(`(?m)^On .{1,200} wrote:\s*$`)
	forwardedRe    = regexp.MustCompile(`(?m)^-{2,}\s*Forwarded message\s*-{2,}\s*$`)
	htmlTagRe      = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlAnyTagRe   = regexp.MustCompile(`<[^>]+>`)
	htmlEntitiesRe = regexp.MustCompile(`&(nbsp|amp|lt|gt|quot|#39);`)
)

// StripQuotedReplies removes quoted-reply lines and everything after a
// reply/forward marker, keeping only the author's own words.
func StripQuotedReplies(body string) string {
	if idx := replyMarkerRe.FindStringIndex(body); idx != nil {
		body = body[:idx[0]]
	}
	if idx := forwardedRe.FindStringIndex(body); idx != nil {
		body = body[:idx[0]]
	}

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func stripHTMLTags(s string) string {
	s = htmlTagRe.ReplaceAllString(s, "")
	s = htmlAnyTagRe.ReplaceAllString(s, " ")
	s = htmlEntitiesRe.ReplaceAllStringFunc(s, func(e string) string {
		switch e {
		case "&nbsp;":
			return " "
		case "&amp;":
			return "&"
		case "&lt;":
			return "<"
		case "&gt;":
			return ">"
		case "&quot;":
			return `"`
		case "&#39;":
			return "'"
		}
		return e
	})
	return strings.TrimSpace(regexp.MustCompile(`[ \t]+`).ReplaceAllString(s, " "))
}
