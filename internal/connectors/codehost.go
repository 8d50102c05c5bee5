package connectors

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"github.com/loomwell/handover-backend/internal/logger"
)

// CodeHostSettings is the type-specific settings blob for code-host.
type CodeHostSettings struct {
	Repos           []string `json:"repos,omitempty"` // "owner/name"; empty = all accessible
	MaxFileSize     int64    `json:"max_file_size,omitempty"`
	MaxFilesPerRepo int      `json:"max_files_per_repo,omitempty"`
	TruncateAt      int      `json:"truncate_at,omitempty"` // chars; 0 = default
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".kt": true, ".rb": true, ".rs": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".cs": true, ".php": true, ".swift": true,
	".scala": true, ".sh": true, ".sql": true,
	".md": true, ".txt": true, ".rst": true,
	".yaml": true, ".yml": true, ".toml": true, ".json": true, ".proto": true,
	".tf": true, ".dockerfile": true,
}

var skippedDirs = []string{
	"node_modules/", "vendor/", "dist/", "build/", "target/", ".git/",
	"__pycache__/", ".venv/", "venv/", "coverage/", ".next/", "out/",
}

const codeTruncationMarker = "\n\n[... truncated ...]"

type codeHostConnector struct {
	log      *logger.Logger
	api      *apiClient
	session  *oauthSession
	cfg      *oauth2.Config
	settings CodeHostSettings
	lookup   HashLookup
	baseURL  string
}

// NewCodeHostConnector lists accessible repositories, walks each recursive
// tree, and emits decoded source files. READMEs and configs sort first so a
// capped sync still captures the highest-signal files; tests sort last.
func NewCodeHostConnector(
	log *logger.Logger,
	creds []byte,
	settings []byte,
	lookup HashLookup,
	persistCreds func(ctx context.Context, creds []byte) error,
) (Connector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("connector", TypeCodeHost)

	cfg := &oauth2.Config{
		ClientID:     os.Getenv("CODEHOST_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("CODEHOST_OAUTH_CLIENT_SECRET"),
		Scopes:       []string{"repo"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
	}

	var s CodeHostSettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s); err != nil {
			return nil, fmt.Errorf("decode code-host settings: %w", err)
		}
	}
	if s.MaxFileSize <= 0 {
		s.MaxFileSize = 1 << 20 // 1 MiB
	}
	if s.TruncateAt <= 0 {
		s.TruncateAt = 100_000
	}

	c := &codeHostConnector{
		log:      slog,
		cfg:      cfg,
		settings: s,
		lookup:   lookup,
		baseURL:  strings.TrimRight(envDefault("CODEHOST_API_BASE_URL", "https://api.github.com"), "/"),
	}

	if len(creds) > 0 {
		session, err := newOAuthSession(cfg, creds, persistCreds)
		if err != nil {
			return nil, err
		}
		c.session = session
	}

	c.api = newAPIClient(slog, func(req *http.Request) {
		req.Header.Set("Accept", "application/vnd.github+json")
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

func (c *codeHostConnector) Type() string { return TypeCodeHost }

func (c *codeHostConnector) AuthURL(redirect, state string) string {
	return oauthAuthURL(c.cfg, redirect, state)
}

func (c *codeHostConnector) ExchangeCode(ctx context.Context, code, redirect string) ([]byte, error) {
	return oauthExchange(ctx, c.cfg, code, redirect)
}

func (c *codeHostConnector) Connect(ctx context.Context) error {
	if c.session == nil {
		return fmt.Errorf("code-host connector has no credentials")
	}
	var me struct {
		Login string `json:"login"`
	}
	if err := c.api.getJSON(ctx, c.baseURL+"/user", &me); err != nil {
		return fmt.Errorf("code-host connect: %w", err)
	}
	c.log.Info("Code-host connector validated", "login", me.Login)
	return nil
}

func (c *codeHostConnector) Test(ctx context.Context) bool {
	return c.Connect(ctx) == nil
}

func (c *codeHostConnector) Disconnect(ctx context.Context) error {
	// token revocation requires app credentials the backend may not hold
	return nil
}

type repoRef struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	PushedAt      string `json:"pushed_at"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // blob | tree
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

func (c *codeHostConnector) Sync(ctx context.Context, since *time.Time, emit EmitFunc) (string, error) {
	repos, err := c.listRepos(ctx)
	if err != nil {
		return "", err
	}

	var cursor string
	for _, repo := range repos {
		if len(c.settings.Repos) > 0 && !containsFold(c.settings.Repos, repo.FullName) {
			continue
		}
		if repo.PushedAt > cursor {
			cursor = repo.PushedAt
		}
		if since != nil && repo.PushedAt != "" {
			if pushed, pErr := time.Parse(time.RFC3339, repo.PushedAt); pErr == nil && pushed.Before(*since) {
				continue
			}
		}
		if err := c.syncRepo(ctx, repo, emit); err != nil {
			return cursor, fmt.Errorf("code-host repo %s: %w", repo.FullName, err)
		}
	}
	return cursor, nil
}

func (c *codeHostConnector) listRepos(ctx context.Context) ([]repoRef, error) {
	out := []repoRef{}
	for pg := 1; ; pg++ {
		var page []repoRef
		u := fmt.Sprintf("%s/user/repos?per_page=100&page=%d&sort=pushed", c.baseURL, pg)
		if err := c.api.getJSON(ctx, u, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < 100 {
			return out, nil
		}
	}
}

func (c *codeHostConnector) syncRepo(ctx context.Context, repo repoRef, emit EmitFunc) error {
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	var tree struct {
		Tree      []treeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	u := fmt.Sprintf("%s/repos/%s/git/trees/%s?recursive=1", c.baseURL, repo.FullName, url.PathEscape(branch))
	if err := c.api.getJSON(ctx, u, &tree); err != nil {
		return err
	}
	if tree.Truncated {
		c.log.Warn("Repository tree truncated by provider", "repo", repo.FullName)
	}

	files := make([]treeEntry, 0, len(tree.Tree))
	for _, e := range tree.Tree {
		if e.Type != "blob" || !c.wantFile(e) {
			continue
		}
		files = append(files, e)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return fileScore(files[i].Path) > fileScore(files[j].Path)
	})
	if c.settings.MaxFilesPerRepo > 0 && len(files) > c.settings.MaxFilesPerRepo {
		files = files[:c.settings.MaxFilesPerRepo]
	}

	for _, e := range files {
		externalID := repo.FullName + ":" + e.Path

		// tree sha identifies blob content exactly; use it as the skip hash
		if c.lookup != nil {
			if stored, ok, err := c.lookup(ctx, externalID); err == nil && ok && stored == e.SHA {
				continue
			}
		}

		content, err := c.fetchFileContent(ctx, repo.FullName, e.Path)
		if err != nil {
			c.log.Warn("File content fetch failed; skipping", "repo", repo.FullName, "path", e.Path, "error", err.Error())
			continue
		}
		if content == "" {
			continue // binary or empty
		}
		if len(content) > c.settings.TruncateAt {
			content = content[:c.settings.TruncateAt] + codeTruncationMarker
		}

		doc := finishDoc(&Document{
			Source:     SourceCodeHost,
			ExternalID: externalID,
			Title:      e.Path,
			Content:    content,
			DocType:    "code_file",
			Metadata: map[string]any{
				"repo": repo.FullName,
				"path": e.Path,
				"size": e.Size,
			},
		})
		doc.ContentSHA1 = e.SHA
		if err := emit(Event{Doc: doc}); err != nil {
			return err
		}
	}
	return nil
}

func (c *codeHostConnector) wantFile(e treeEntry) bool {
	lower := strings.ToLower(e.Path)
	for _, dir := range skippedDirs {
		if strings.HasPrefix(lower, dir) || strings.Contains(lower, "/"+dir) {
			return false
		}
	}
	if e.Size > c.settings.MaxFileSize {
		return false
	}
	base := path.Base(lower)
	if base == "dockerfile" || base == "makefile" {
		return true
	}
	return codeExtensions[path.Ext(lower)]
}

// fileScore orders files so the highest-signal ones survive a capped sync:
// READMEs, then configs and docs, plain code in the middle, tests last.
func fileScore(p string) int {
	lower := strings.ToLower(p)
	base := path.Base(lower)

	switch {
	case strings.HasPrefix(base, "readme"):
		return 100
	case base == "dockerfile" || base == "makefile" || base == "go.mod" || base == "package.json" || base == "pyproject.toml":
		return 80
	case strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".toml"):
		return 70
	case strings.HasSuffix(base, ".md") || strings.HasSuffix(base, ".rst") || strings.HasSuffix(base, ".txt"):
		return 60
	case strings.Contains(lower, "_test.") || strings.Contains(lower, ".test.") ||
		strings.Contains(lower, ".spec.") || strings.Contains(lower, "/test/") ||
		strings.Contains(lower, "/tests/"):
		return 0
	default:
		return 40
	}
}

func (c *codeHostConnector) fetchFileContent(ctx context.Context, fullName, filePath string) (string, error) {
	var resp struct {
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	u := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, fullName, escapePath(filePath))
	if err := c.api.getJSON(ctx, u, &resp); err != nil {
		return "", err
	}
	if resp.Encoding != "base64" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", nil // binary
	}
	return string(decoded), nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func (c *codeHostConnector) Fetch(ctx context.Context, externalID string) (*Document, error) {
	idx := strings.Index(externalID, ":")
	if idx <= 0 {
		return nil, fmt.Errorf("bad code-host external id: %q", externalID)
	}
	fullName := externalID[:idx]
	filePath := externalID[idx+1:]

	content, err := c.fetchFileContent(ctx, fullName, filePath)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("file is binary or empty: %s", externalID)
	}
	if len(content) > c.settings.TruncateAt {
		content = content[:c.settings.TruncateAt] + codeTruncationMarker
	}

	return finishDoc(&Document{
		Source:     SourceCodeHost,
		ExternalID: externalID,
		Title:      filePath,
		Content:    content,
		DocType:    "code_file",
		Metadata:   map[string]any{"repo": fullName, "path": filePath},
	}), nil
}
