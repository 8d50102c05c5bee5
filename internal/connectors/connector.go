package connectors

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Source tokens used as the doc_id prefix. Single token, no underscores, so
// doc_id = "<source>_<external_id>" splits cleanly on the first underscore.
const (
	SourceEmail      = "email"
	SourceChat       = "chat"
	SourceCloudFiles = "cloudfiles"
	SourceCodeHost   = "codehost"
	SourceWebCrawler = "webcrawler"
)

// Connector type names as stored on the connectors table.
const (
	TypeEmailSource = "email-source"
	TypeChatSource  = "chat-source"
	TypeCloudFiles  = "cloud-files"
	TypeCodeHost    = "code-host"
	TypeWebCrawler  = "web-crawler"
)

// Document is the canonical record every source emits. Content-bearing text
// sources fill Content; binary sources fill Raw and leave Content empty for
// the parser to fill downstream.
type Document struct {
	DocID       string         `json:"doc_id"`
	Source      string         `json:"source"`
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	ContentSHA1 string         `json:"content_sha1"`
	Author      string         `json:"author,omitempty"`
	DocType     string         `json:"doc_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Raw carries undecoded file bytes (PDFs, images, office docs) for the
	// document parser. Never serialized to the wire.
	Raw      []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Tombstone marks an upstream deletion. Connectors never delete documents
// themselves; the orchestrator decides what a tombstone means.
type Tombstone struct {
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	DeletedAt  time.Time `json:"deleted_at"`
}

type Event struct {
	Doc       *Document
	Tombstone *Tombstone
}

// EmitFunc receives each event as the sync produces it. Returning an error
// aborts the sync; the connector propagates it unchanged.
type EmitFunc func(ev Event) error

// HashLookup reports the stored content hash for (tenant, external_id), used
// by connectors to skip unchanged items. ok=false means no stored document.
type HashLookup func(ctx context.Context, externalID string) (sha1hex string, ok bool, err error)

// Connector is the single capability all five sources implement.
type Connector interface {
	Type() string

	// OAuth handshake. Non-OAuth sources return "" / ErrAuthNotSupported.
	AuthURL(redirect, state string) string
	ExchangeCode(ctx context.Context, code, redirect string) ([]byte, error)

	// Connect validates credentials, refreshing tokens if needed.
	Connect(ctx context.Context) error
	// Test is a cheap liveness probe.
	Test(ctx context.Context) bool

	// Sync yields documents changed since the given time (nil means full
	// sync). Returns the cursor to persist on success. Idempotent per
	// external_id.
	Sync(ctx context.Context, since *time.Time, emit EmitFunc) (cursor string, err error)

	// Fetch rehydrates a single item by external id.
	Fetch(ctx context.Context, externalID string) (*Document, error)

	// Disconnect best-effort revokes credentials.
	Disconnect(ctx context.Context) error
}

var ErrAuthNotSupported = fmt.Errorf("connector does not use oauth")

func MakeDocID(source, externalID string) string {
	return source + "_" + externalID
}

// SplitDocID returns (source, external_id). The external id may itself
// contain underscores; only the first one separates.
func SplitDocID(docID string) (string, string) {
	parts := strings.SplitN(docID, "_", 2)
	if len(parts) != 2 {
		return docID, ""
	}
	return parts[0], parts[1]
}

func HashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func HashBytes(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// finishDoc fills derived fields every connector would otherwise repeat.
func finishDoc(d *Document) *Document {
	if d == nil {
		return nil
	}
	if d.DocID == "" {
		d.DocID = MakeDocID(d.Source, d.ExternalID)
	}
	if d.ContentSHA1 == "" {
		if d.Content != "" {
			d.ContentSHA1 = HashContent(d.Content)
		} else if len(d.Raw) > 0 {
			d.ContentSHA1 = HashBytes(d.Raw)
		}
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	return d
}
