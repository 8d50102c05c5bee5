package connectors

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/pkg/httpx"
)

// CrawlerAuth configures how the crawler authenticates against the target
// site. Type is one of basic, bearer, cookie, form.
type CrawlerAuth struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	Cookie   string `json:"cookie,omitempty"`

	// form auth: POST LoginURL with UsernameField/PasswordField, keep cookies
	LoginURL      string `json:"login_url,omitempty"`
	UsernameField string `json:"username_field,omitempty"`
	PasswordField string `json:"password_field,omitempty"`
}

// WebCrawlerSettings is the type-specific settings blob for web-crawler.
type WebCrawlerSettings struct {
	StartURL         string   `json:"start_url"`
	MaxDepth         int      `json:"max_depth,omitempty"`          // default 2
	MaxPages         int      `json:"max_pages,omitempty"`          // default 50
	MinContentLength int      `json:"min_content_length,omitempty"` // default 100
	PriorityPaths    []string `json:"priority_paths,omitempty"`
	PoliteDelayMS    int      `json:"polite_delay_ms,omitempty"` // default 500
	RespectRobots    bool     `json:"respect_robots,omitempty"`
	DiscoverSitemap  bool     `json:"discover_sitemap,omitempty"`
	UserAgents       []string `json:"user_agents,omitempty"`
	Proxies          []string `json:"proxies,omitempty"`
	Render           string   `json:"render,omitempty"` // "", "rendertron", "browserless"
	RenderEndpoint   string   `json:"render_endpoint,omitempty"`

	Auth *CrawlerAuth `json:"auth,omitempty"`
}

const defaultCrawlerUA = "handover-crawler/1.0"

type crawlStats struct {
	visited int
	emitted int
	skipped int
}

type webCrawlerConnector struct {
	log      *logger.Logger
	settings WebCrawlerSettings
	lookup   HashLookup

	httpClients []*http.Client // one per proxy; index 0 is direct when no proxies
	uaIndex     int
	clientIndex int

	renderer pageRenderer // nil = plain fetch

	// per-job caches, rebuilt each Sync so nothing leaks across tenants
	robots map[string]*robotsRules

	stats crawlStats
}

// NewWebCrawlerConnector crawls same-origin pages breadth-first from a start
// URL. Configured priority paths drain before the normal frontier so page
// caps favor the content the tenant cares about.
func NewWebCrawlerConnector(
	log *logger.Logger,
	settings []byte,
	lookup HashLookup,
) (Connector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("connector", TypeWebCrawler)

	var s WebCrawlerSettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s); err != nil {
			return nil, fmt.Errorf("decode web-crawler settings: %w", err)
		}
	}
	if strings.TrimSpace(s.StartURL) == "" {
		return nil, fmt.Errorf("web-crawler requires start_url")
	}
	if s.MaxDepth <= 0 {
		s.MaxDepth = 2
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 50
	}
	if s.MinContentLength <= 0 {
		s.MinContentLength = 100
	}
	if s.PoliteDelayMS <= 0 {
		s.PoliteDelayMS = 500
	}
	if len(s.UserAgents) == 0 {
		s.UserAgents = []string{defaultCrawlerUA}
	}

	c := &webCrawlerConnector{
		log:      slog,
		settings: s,
		lookup:   lookup,
	}

	if len(s.Proxies) == 0 {
		c.httpClients = []*http.Client{{Timeout: 30 * time.Second}}
	} else {
		for _, p := range s.Proxies {
			proxyURL, err := url.Parse(p)
			if err != nil {
				return nil, fmt.Errorf("bad proxy url %q: %w", p, err)
			}
			c.httpClients = append(c.httpClients, &http.Client{
				Timeout:   30 * time.Second,
				Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
			})
		}
	}

	switch s.Render {
	case "":
	case "rendertron":
		c.renderer = &rendertronRenderer{endpoint: strings.TrimRight(s.RenderEndpoint, "/")}
	case "browserless":
		c.renderer = &browserlessRenderer{endpoint: strings.TrimRight(s.RenderEndpoint, "/")}
	default:
		return nil, fmt.Errorf("unknown render engine %q", s.Render)
	}

	return c, nil
}

func (c *webCrawlerConnector) Type() string { return TypeWebCrawler }

func (c *webCrawlerConnector) AuthURL(redirect, state string) string { return "" }

func (c *webCrawlerConnector) ExchangeCode(ctx context.Context, code, redirect string) ([]byte, error) {
	return nil, ErrAuthNotSupported
}

func (c *webCrawlerConnector) Connect(ctx context.Context) error {
	if c.settings.Auth != nil && c.settings.Auth.Type == "form" {
		if err := c.formLogin(ctx); err != nil {
			return err
		}
	}
	_, _, err := c.fetchPage(ctx, c.settings.StartURL)
	if err != nil {
		return fmt.Errorf("web-crawler connect: %w", err)
	}
	return nil
}

func (c *webCrawlerConnector) Test(ctx context.Context) bool {
	return c.Connect(ctx) == nil
}

func (c *webCrawlerConnector) Disconnect(ctx context.Context) error { return nil }

func (c *webCrawlerConnector) Fetch(ctx context.Context, externalID string) (*Document, error) {
	body, contentType, err := c.fetchPage(ctx, externalID)
	if err != nil {
		return nil, err
	}
	doc, _ := c.buildPageDoc(externalID, body, contentType)
	if doc == nil {
		return nil, fmt.Errorf("page yielded no usable content: %s", externalID)
	}
	return doc, nil
}

type frontierEntry struct {
	url   string
	depth int
}

func (c *webCrawlerConnector) Sync(ctx context.Context, since *time.Time, emit EmitFunc) (string, error) {
	// crawls are full; since is ignored and dedup happens on content hash
	start, err := url.Parse(c.settings.StartURL)
	if err != nil {
		return "", fmt.Errorf("bad start_url: %w", err)
	}

	c.robots = map[string]*robotsRules{}
	c.stats = crawlStats{}

	if c.settings.Auth != nil && c.settings.Auth.Type == "form" {
		if err := c.formLogin(ctx); err != nil {
			return "", err
		}
	}

	visited := map[string]bool{}
	var priorityQueue, normalQueue []frontierEntry

	enqueue := func(raw string, depth int) {
		norm := normalizeURL(start, raw)
		if norm == "" || visited[norm] {
			return
		}
		visited[norm] = true
		entry := frontierEntry{url: norm, depth: depth}
		if c.isPriorityPath(norm) {
			priorityQueue = append(priorityQueue, entry)
		} else {
			normalQueue = append(normalQueue, entry)
		}
	}

	enqueue(c.settings.StartURL, 0)

	if c.settings.DiscoverSitemap {
		for _, loc := range c.discoverSitemap(ctx, start) {
			enqueue(loc, 1)
		}
	}

	pages := 0
	for (len(priorityQueue) > 0 || len(normalQueue) > 0) && pages < c.settings.MaxPages {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var entry frontierEntry
		if len(priorityQueue) > 0 {
			entry, priorityQueue = priorityQueue[0], priorityQueue[1:]
		} else {
			entry, normalQueue = normalQueue[0], normalQueue[1:]
		}

		if c.settings.RespectRobots && !c.robotsAllowed(ctx, entry.url) {
			c.stats.skipped++
			continue
		}

		body, contentType, err := c.fetchPage(ctx, entry.url)
		if err != nil {
			c.log.Warn("Page fetch failed; skipping", "url", entry.url, "error", err.Error())
			c.stats.skipped++
			continue
		}
		c.stats.visited++
		pages++

		doc, links := c.buildPageDoc(entry.url, body, contentType)
		if doc != nil {
			unchanged := false
			if c.lookup != nil {
				if stored, ok, lErr := c.lookup(ctx, doc.ExternalID); lErr == nil && ok && stored == doc.ContentSHA1 {
					unchanged = true
				}
			}
			if !unchanged {
				if err := emit(Event{Doc: doc}); err != nil {
					return "", err
				}
				c.stats.emitted++
			}
		} else {
			c.stats.skipped++
		}

		if entry.depth < c.settings.MaxDepth {
			for _, link := range links {
				enqueue(link, entry.depth+1)
			}
		}

		c.politeSleep(ctx, entry.url)
	}

	c.log.Info("Crawl finished",
		"visited", c.stats.visited,
		"emitted", c.stats.emitted,
		"skipped", c.stats.skipped,
	)
	return time.Now().UTC().Format(time.RFC3339), nil
}

func (c *webCrawlerConnector) isPriorityPath(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, p := range c.settings.PriorityPaths {
		if strings.HasPrefix(u.Path, p) {
			return true
		}
	}
	return false
}

// normalizeURL resolves raw against the start origin and returns "" for
// anything off-origin or non-crawlable.
func normalizeURL(origin *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") ||
		strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "javascript:") ||
		strings.HasPrefix(raw, "tel:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	abs := origin.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if abs.Host != origin.Host {
		return ""
	}
	abs.Fragment = ""
	if abs.Path == "" {
		abs.Path = "/"
	}
	return abs.String()
}

// -------------------- fetching --------------------

func (c *webCrawlerConnector) nextUA() string {
	ua := c.settings.UserAgents[c.uaIndex%len(c.settings.UserAgents)]
	c.uaIndex++
	return ua
}

func (c *webCrawlerConnector) nextClient() *http.Client {
	cl := c.httpClients[c.clientIndex%len(c.httpClients)]
	c.clientIndex++
	return cl
}

func (c *webCrawlerConnector) applyAuth(req *http.Request) {
	a := c.settings.Auth
	if a == nil {
		return
	}
	switch a.Type {
	case "basic":
		req.SetBasicAuth(a.Username, a.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case "cookie":
		req.Header.Set("Cookie", a.Cookie)
	case "form":
		// session cookie captured at login time
		if a.Cookie != "" {
			req.Header.Set("Cookie", a.Cookie)
		}
	}
}

func (c *webCrawlerConnector) formLogin(ctx context.Context) error {
	a := c.settings.Auth
	if a == nil || a.LoginURL == "" {
		return fmt.Errorf("form auth requires login_url")
	}
	uf := a.UsernameField
	if uf == "" {
		uf = "username"
	}
	pf := a.PasswordField
	if pf == "" {
		pf = "password"
	}
	form := url.Values{uf: {a.Username}, pf: {a.Password}}

	req, err := http.NewRequestWithContext(ctx, "POST", a.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.nextClient().Do(req)
	if err != nil {
		return fmt.Errorf("form login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return fmt.Errorf("form login returned no session cookie")
	}
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	a.Cookie = strings.Join(parts, "; ")
	return nil
}

func (c *webCrawlerConnector) fetchPage(ctx context.Context, pageURL string) ([]byte, string, error) {
	if c.renderer != nil && c.renderer.ready() {
		body, err := c.renderer.render(ctx, c.nextClient(), pageURL)
		if err == nil {
			return body, "text/html", nil
		}
		c.log.Warn("JS render failed; falling back to plain fetch", "url", pageURL, "error", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("User-Agent", c.nextUA())
		c.applyAuth(req)

		resp, err := c.nextClient().Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, resp.Header.Get("Content-Type"), nil
			} else {
				lastErr = &providerHTTPError{StatusCode: resp.StatusCode, Body: truncateForLog(string(body))}
				if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
					return nil, "", lastErr
				}
			}
		}
		if attempt < 3 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(httpx.Backoff(attempt, 500*time.Millisecond, 5*time.Second)):
			}
		}
	}
	return nil, "", lastErr
}

func (c *webCrawlerConnector) politeSleep(ctx context.Context, pageURL string) {
	delay := time.Duration(c.settings.PoliteDelayMS) * time.Millisecond
	if c.settings.RespectRobots {
		if u, err := url.Parse(pageURL); err == nil {
			if rules := c.robots[u.Host]; rules != nil && rules.crawlDelay > delay {
				delay = rules.crawlDelay
			}
		}
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// -------------------- page -> document --------------------

func (c *webCrawlerConnector) buildPageDoc(pageURL string, body []byte, contentType string) (*Document, []string) {
	ct := strings.ToLower(contentType)

	if strings.Contains(ct, "application/pdf") || strings.HasSuffix(strings.ToLower(pageURL), ".pdf") {
		return finishDoc(&Document{
			Source:     SourceWebCrawler,
			ExternalID: pageURL,
			Title:      urlBase(pageURL),
			DocType:    "web_pdf",
			Raw:        body,
			Filename:   urlBase(pageURL),
			MimeType:   "application/pdf",
			Metadata:   map[string]any{"url": pageURL},
		}), nil
	}

	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/") {
		return nil, nil
	}

	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil
	}

	title := extractTitle(root)
	content := ExtractReadableContent(root)
	links := extractLinks(root)

	if len(content) < c.settings.MinContentLength {
		return nil, links
	}

	return finishDoc(&Document{
		Source:     SourceWebCrawler,
		ExternalID: pageURL,
		Title:      title,
		Content:    content,
		DocType:    "web_page",
		Metadata:   map[string]any{"url": pageURL},
	}), links
}

func urlBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return raw
	}
	parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	return parts[len(parts)-1]
}

func extractTitle(root *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return title
}

// ExtractReadableContent pulls readable text, preferring <main>/<article>
// then elements whose id or class mentions "content". Script and style
// subtrees are dropped; everything else keeps its text.
func ExtractReadableContent(root *html.Node) string {
	target := findContentNode(root)
	if target == nil {
		target = findElement(root, "body")
	}
	if target == nil {
		target = root
	}

	var b strings.Builder
	collectText(target, &b)
	return strings.TrimSpace(collapseSpaces(b.String()))
}

func findContentNode(root *html.Node) *html.Node {
	if n := findElement(root, "main"); n != nil {
		return n
	}
	if n := findElement(root, "article"); n != nil {
		return n
	}
	return findByAttrSubstring(root, "content")
}

func findElement(root *html.Node, name string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == name {
			found = n
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return found
}

func findByAttrSubstring(root *html.Node, sub string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if (a.Key == "id" || a.Key == "class") && strings.Contains(strings.ToLower(a.Val), sub) {
					found = n
					return
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return found
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
		return
	}
	if n.Type == html.TextNode {
		t := strings.TrimSpace(n.Data)
		if t != "" {
			b.WriteString(t)
			b.WriteString(" ")
		}
	}
	if n.Type == html.ElementNode && isBlockElement(n.Data) {
		b.WriteString("\n")
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		collectText(ch, b)
	}
}

func isBlockElement(name string) bool {
	switch name {
	case "p", "div", "section", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "tr", "blockquote", "pre":
		return true
	}
	return false
}

func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func extractLinks(root *html.Node) []string {
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					links = append(links, a.Val)
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return links
}

// -------------------- robots.txt --------------------

type robotsRules struct {
	disallow   []string
	crawlDelay time.Duration
}

func (r *robotsRules) allowed(path string) bool {
	if r == nil {
		return true
	}
	for _, d := range r.disallow {
		if d != "" && strings.HasPrefix(path, d) {
			return false
		}
	}
	return true
}

func (c *webCrawlerConnector) robotsAllowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	rules, ok := c.robots[u.Host]
	if !ok {
		rules = c.fetchRobots(ctx, u)
		c.robots[u.Host] = rules
	}
	return rules.allowed(u.Path)
}

func (c *webCrawlerConnector) fetchRobots(ctx context.Context, u *url.URL) *robotsRules {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	body, _, err := c.fetchPage(ctx, robotsURL)
	if err != nil {
		return &robotsRules{} // unreadable robots means allow all
	}
	return parseRobots(string(body), c.settings.UserAgents[0])
}

// parseRobots keeps the rule groups that apply to our user agent (longest
// matching agent token wins, * matches everyone).
func parseRobots(body string, ua string) *robotsRules {
	rules := &robotsRules{}
	uaLower := strings.ToLower(ua)

	applies := false
	sawOurGroup := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			agent := strings.ToLower(val)
			applies = agent == "*" || strings.Contains(uaLower, agent)
			if applies && agent != "*" {
				// a specific group overrides wildcard rules collected so far
				if !sawOurGroup {
					rules.disallow = nil
					rules.crawlDelay = 0
					sawOurGroup = true
				}
			}
		case "disallow":
			if applies && val != "" {
				rules.disallow = append(rules.disallow, val)
			}
		case "crawl-delay":
			if applies {
				if secs, err := strconv.ParseFloat(val, 64); err == nil && secs > 0 {
					rules.crawlDelay = time.Duration(secs * float64(time.Second))
				}
			}
		}
	}
	return rules
}

// -------------------- sitemap --------------------

func (c *webCrawlerConnector) discoverSitemap(ctx context.Context, origin *url.URL) []string {
	sitemapURL := origin.Scheme + "://" + origin.Host + "/sitemap.xml"
	body, _, err := c.fetchPage(ctx, sitemapURL)
	if err != nil {
		return nil
	}

	var sm struct {
		URLs []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.Unmarshal(body, &sm); err != nil {
		return nil
	}

	out := make([]string, 0, len(sm.URLs))
	for _, u := range sm.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	// one level of sitemap-index indirection
	for _, nested := range sm.Sitemaps {
		loc := strings.TrimSpace(nested.Loc)
		if loc == "" {
			continue
		}
		nestedBody, _, err := c.fetchPage(ctx, loc)
		if err != nil {
			continue
		}
		var inner struct {
			URLs []struct {
				Loc string `xml:"loc"`
			} `xml:"url"`
		}
		if err := xml.Unmarshal(nestedBody, &inner); err != nil {
			continue
		}
		for _, u := range inner.URLs {
			if l := strings.TrimSpace(u.Loc); l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}

// -------------------- JS rendering --------------------

// pageRenderer is the capability both render engines sit behind.
type pageRenderer interface {
	ready() bool
	render(ctx context.Context, client *http.Client, pageURL string) ([]byte, error)
}

type rendertronRenderer struct {
	endpoint string
}

func (r *rendertronRenderer) ready() bool { return r.endpoint != "" }

func (r *rendertronRenderer) render(ctx context.Context, client *http.Client, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", r.endpoint+"/render/"+url.QueryEscape(pageURL), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rendertron http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

type browserlessRenderer struct {
	endpoint string
}

func (r *browserlessRenderer) ready() bool { return r.endpoint != "" }

func (r *browserlessRenderer) render(ctx context.Context, client *http.Client, pageURL string) ([]byte, error) {
	payload, _ := json.Marshal(map[string]string{"url": pageURL})
	req, err := http.NewRequestWithContext(ctx, "POST", r.endpoint+"/content", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("browserless http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
