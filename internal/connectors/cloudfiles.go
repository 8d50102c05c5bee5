package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/loomwell/handover-backend/internal/logger"
)

// CloudFilesSettings is the type-specific settings blob for cloud-files.
type CloudFilesSettings struct {
	RootFolderID   string   `json:"root_folder_id,omitempty"` // default "0"
	ExcludeFolders []string `json:"exclude_folders,omitempty"`
	Extensions     []string `json:"extensions,omitempty"` // allowed; empty = defaults
	MaxFileSize    int64    `json:"max_file_size,omitempty"`
	RetainBlobs    bool     `json:"retain_blobs,omitempty"`
}

var defaultCloudFileExtensions = []string{
	".pdf", ".docx", ".doc", ".pptx", ".xlsx",
	".txt", ".md", ".csv", ".json",
	".png", ".jpg", ".jpeg",
}

// BlobUploader is the slice of the blob store cloud-files needs for
// retention. Keys follow {tenant_id}/{source}/{filename}.
type BlobUploader interface {
	Upload(ctx context.Context, key string, r io.Reader) error
}

type cloudFilesConnector struct {
	log      *logger.Logger
	api      *apiClient
	session  *oauthSession
	cfg      *oauth2.Config
	settings CloudFilesSettings
	lookup   HashLookup
	baseURL  string

	tenantID string
	blobs    BlobUploader // nil disables retention
}

// NewCloudFilesConnector walks a provider folder tree recursively, filters by
// size and extension, and downloads each changed file once. The incremental
// decision uses the provider's native sha1, so unchanged files cost one list
// entry and zero downloads.
func NewCloudFilesConnector(
	log *logger.Logger,
	tenantID string,
	creds []byte,
	settings []byte,
	lookup HashLookup,
	blobs BlobUploader,
	persistCreds func(ctx context.Context, creds []byte) error,
) (Connector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("connector", TypeCloudFiles)

	cfg := &oauth2.Config{
		ClientID:     os.Getenv("CLOUDFILES_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("CLOUDFILES_OAUTH_CLIENT_SECRET"),
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://account.box.com/api/oauth2/authorize",
			TokenURL: "https://api.box.com/oauth2/token",
		},
	}

	var s CloudFilesSettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s); err != nil {
			return nil, fmt.Errorf("decode cloud-files settings: %w", err)
		}
	}
	if s.RootFolderID == "" {
		s.RootFolderID = "0"
	}
	if len(s.Extensions) == 0 {
		s.Extensions = defaultCloudFileExtensions
	}
	if s.MaxFileSize <= 0 {
		s.MaxFileSize = 20 << 20 // 20 MiB
	}

	c := &cloudFilesConnector{
		log:      slog,
		cfg:      cfg,
		settings: s,
		lookup:   lookup,
		baseURL:  strings.TrimRight(envDefault("CLOUDFILES_API_BASE_URL", "https://api.box.com"), "/"),
		tenantID: tenantID,
		blobs:    blobs,
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

func (c *cloudFilesConnector) Type() string { return TypeCloudFiles }

func (c *cloudFilesConnector) AuthURL(redirect, state string) string {
	return oauthAuthURL(c.cfg, redirect, state)
}

func (c *cloudFilesConnector) ExchangeCode(ctx context.Context, code, redirect string) ([]byte, error) {
	return oauthExchange(ctx, c.cfg, code, redirect)
}

func (c *cloudFilesConnector) Connect(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("cloud-files connector has no credentials")
	}
	var me struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	}
	if err := c.api.getJSON(ctx, c.baseURL+"/2.0/users/me", &me); err != nil {
		return fmt.Errorf("cloud-files connect: %w", err)
	}
	c.log.Info("Cloud-files connector validated", "login", me.Login)
	return nil
}

func (c *cloudFilesConnector) Test(ctx context.Context) bool {
	return c.Connect(ctx) == nil
}

func (c *cloudFilesConnector) Disconnect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	tok, err := c.session.AccessToken(ctx)
	if err != nil {
		return nil
	}
	body := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"token":         {tok},
	}.Encode()
	_, _ = c.api.do(ctx, "POST", c.baseURL+"/oauth2/revoke", func() (io.Reader, string) {
		return strings.NewReader(body), "application/x-www-form-urlencoded"
	})
	return nil
}

type cloudFileItem struct {
	Type       string `json:"type"` // file | folder
	ID         string `json:"id"`
	Name       string `json:"name"`
	SHA1       string `json:"sha1"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	CreatedBy  struct {
		Name string `json:"name"`
	} `json:"created_by"`
}

func (c *cloudFilesConnector) Sync(ctx context.Context, since *time.Time, emit EmitFunc) (string, error) {
	var cursor string
	err := c.walkFolder(ctx, c.settings.RootFolderID, "", since, emit, &cursor)
	return cursor, err
}

func (c *cloudFilesConnector) walkFolder(ctx context.Context, folderID, folderPath string, since *time.Time, emit EmitFunc, cursor *string) error {
	offset := 0
	for {
		u := fmt.Sprintf("%s/2.0/folders/%s/items?limit=1000&offset=%d&fields=id,name,type,sha1,size,modified_at,created_by",
			c.baseURL, url.PathEscape(folderID), offset)

		var page struct {
			TotalCount int             `json:"total_count"`
			Entries    []cloudFileItem `json:"entries"`
		}
		if err := c.api.getJSON(ctx, u, &page); err != nil {
			return fmt.Errorf("cloud-files list folder %s: %w", folderID, err)
		}

		for _, item := range page.Entries {
			switch item.Type {
			case "folder":
				if containsFold(c.settings.ExcludeFolders, item.Name) {
					continue
				}
				if err := c.walkFolder(ctx, item.ID, path.Join(folderPath, item.Name), since, emit, cursor); err != nil {
					return err
				}
			case "file":
				if err := c.handleFile(ctx, item, folderPath, since, emit, cursor); err != nil {
					return err
				}
			}
		}

		offset += len(page.Entries)
		if offset >= page.TotalCount || len(page.Entries) == 0 {
			return nil
		}
	}
}

func (c *cloudFilesConnector) handleFile(ctx context.Context, item cloudFileItem, folderPath string, since *time.Time, emit EmitFunc, cursor *string) error {
	if item.ModifiedAt > *cursor {
		*cursor = item.ModifiedAt
	}

	ext := strings.ToLower(path.Ext(item.Name))
	if !containsFold(c.settings.Extensions, ext) {
		return nil
	}
	if item.Size > c.settings.MaxFileSize {
		c.log.Debug("Skipping oversized file", "name", item.Name, "size", item.Size)
		return nil
	}
	if since != nil && item.ModifiedAt != "" {
		if mod, err := time.Parse(time.RFC3339, item.ModifiedAt); err == nil && mod.Before(*since) {
			return nil
		}
	}

	// provider-native hash decides the skip without downloading
	if c.lookup != nil && item.SHA1 != "" {
		if stored, ok, err := c.lookup(ctx, item.ID); err == nil && ok && stored == item.SHA1 {
			return nil
		}
	}

	raw, err := c.api.getBytes(ctx, c.baseURL+"/2.0/files/"+url.PathEscape(item.ID)+"/content")
	if err != nil {
		c.log.Warn("File download failed; skipping", "name", item.Name, "error", err.Error())
		return nil
	}

	if c.blobs != nil && c.settings.RetainBlobs {
		key := path.Join(c.tenantID, SourceCloudFiles, item.Name)
		if upErr := c.blobs.Upload(ctx, key, bytes.NewReader(raw)); upErr != nil {
			c.log.Warn("Blob retention upload failed", "key", key, "error", upErr.Error())
		}
	}

	ts := time.Now().UTC()
	if mod, err := time.Parse(time.RFC3339, item.ModifiedAt); err == nil {
		ts = mod.UTC()
	}

	doc := finishDoc(&Document{
		Source:     SourceCloudFiles,
		ExternalID: item.ID,
		Title:      item.Name,
		Author:     item.CreatedBy.Name,
		DocType:    "file",
		Timestamp:  ts,
		Raw:        raw,
		Filename:   item.Name,
		Metadata: map[string]any{
			"folder_path": folderPath,
			"size":        item.Size,
		},
	})
	if item.SHA1 != "" {
		doc.ContentSHA1 = item.SHA1
	}
	return emit(Event{Doc: doc})
}

func (c *cloudFilesConnector) Fetch(ctx context.Context, externalID string) (*Document, error) {
	var item cloudFileItem
	u := c.baseURL + "/2.0/files/" + url.PathEscape(externalID) + "?fields=id,name,type,sha1,size,modified_at,created_by"
	if err := c.api.getJSON(ctx, u, &item); err != nil {
		return nil, err
	}

	raw, err := c.api.getBytes(ctx, c.baseURL+"/2.0/files/"+url.PathEscape(externalID)+"/content")
	if err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	if mod, pErr := time.Parse(time.RFC3339, item.ModifiedAt); pErr == nil {
		ts = mod.UTC()
	}

	doc := finishDoc(&Document{
		Source:     SourceCloudFiles,
		ExternalID: item.ID,
		Title:      item.Name,
		Author:     item.CreatedBy.Name,
		DocType:    "file",
		Timestamp:  ts,
		Raw:        raw,
		Filename:   item.Name,
		Metadata:   map[string]any{"size": item.Size},
	})
	if item.SHA1 != "" {
		doc.ContentSHA1 = item.SHA1
	}
	return doc, nil
}
