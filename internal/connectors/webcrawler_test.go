package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/loomwell/handover-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func crawlerSettings(t *testing.T, s WebCrawlerSettings) []byte {
	t.Helper()
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal settings: %v", err)
	}
	return raw
}

func pageHTML(title, body string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><main><p>%s</p>", title, body)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func TestCrawlMinContentFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, pageHTML("Index", strings.Repeat("index text ", 80), "/a", "/b"))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML("A", "tiny"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML("B", strings.Repeat("page b text ", 42)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, err := NewWebCrawlerConnector(testLogger(t), crawlerSettings(t, WebCrawlerSettings{
		StartURL:         srv.URL + "/",
		MaxDepth:         1,
		MaxPages:         3,
		MinContentLength: 100,
		PoliteDelayMS:    1,
	}), nil)
	if err != nil {
		t.Fatalf("NewWebCrawlerConnector: %v", err)
	}

	var emitted []*Document
	cursor, err := conn.Sync(context.Background(), nil, func(ev Event) error {
		emitted = append(emitted, ev.Doc)
		return nil
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if cursor == "" {
		t.Fatalf("expected a cursor timestamp")
	}

	if len(emitted) != 2 {
		t.Fatalf("expected 2 documents (index, /b), got %d", len(emitted))
	}
	titles := map[string]bool{}
	for _, d := range emitted {
		titles[d.Title] = true
		if d.Source != SourceWebCrawler || d.ContentSHA1 == "" {
			t.Fatalf("document not finished: %+v", d)
		}
	}
	if !titles["Index"] || !titles["B"] {
		t.Fatalf("wrong pages emitted: %v", titles)
	}

	crawler := conn.(*webCrawlerConnector)
	if crawler.stats.visited != 3 {
		t.Fatalf("visited = %d, want 3", crawler.stats.visited)
	}
	if crawler.stats.emitted != 2 || crawler.stats.skipped != 1 {
		t.Fatalf("stats = %+v", crawler.stats)
	}
}

func TestCrawlSkipsUnchangedPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML("Stable", strings.Repeat("same content ", 30)))
	}))
	defer srv.Close()

	settings := crawlerSettings(t, WebCrawlerSettings{
		StartURL:      srv.URL + "/",
		MaxDepth:      0,
		MaxPages:      1,
		PoliteDelayMS: 1,
	})

	stored := map[string]string{}
	lookup := func(_ context.Context, externalID string) (string, bool, error) {
		sha, ok := stored[externalID]
		return sha, ok, nil
	}

	conn, err := NewWebCrawlerConnector(testLogger(t), settings, lookup)
	if err != nil {
		t.Fatalf("NewWebCrawlerConnector: %v", err)
	}

	first := 0
	if _, err := conn.Sync(context.Background(), nil, func(ev Event) error {
		first++
		stored[ev.Doc.ExternalID] = ev.Doc.ContentSHA1
		return nil
	}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first != 1 {
		t.Fatalf("first sync emitted %d", first)
	}

	conn2, err := NewWebCrawlerConnector(testLogger(t), settings, lookup)
	if err != nil {
		t.Fatalf("rebuild connector: %v", err)
	}
	second := 0
	if _, err := conn2.Sync(context.Background(), nil, func(ev Event) error {
		second++
		return nil
	}); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second != 0 {
		t.Fatalf("unchanged page re-emitted %d times", second)
	}
}

func TestCrawlStaysOnOrigin(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("off-origin host was fetched: %s", r.URL)
	}))
	defer other.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML("Home", strings.Repeat("home page text ", 30),
			other.URL+"/external", "mailto:x@example.com", "javascript:void(0)", "/local"))
	})
	mux.HandleFunc("/local", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageHTML("Local", strings.Repeat("local page text ", 30)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, err := NewWebCrawlerConnector(testLogger(t), crawlerSettings(t, WebCrawlerSettings{
		StartURL:      srv.URL + "/",
		MaxDepth:      2,
		MaxPages:      10,
		PoliteDelayMS: 1,
	}), nil)
	if err != nil {
		t.Fatalf("NewWebCrawlerConnector: %v", err)
	}

	count := 0
	if _, err := conn.Sync(context.Background(), nil, func(ev Event) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected the 2 same-origin pages, got %d", count)
	}
}

func TestNormalizeURL(t *testing.T) {
	origin, _ := url.Parse("https://example.test/docs/")
	cases := []struct {
		raw  string
		want string
	}{
		{"/about", "https://example.test/about"},
		{"page", "https://example.test/docs/page"},
		{"https://example.test/x#frag", "https://example.test/x"},
		{"https://elsewhere.test/y", ""},
		{"mailto:a@b.c", ""},
		{"#anchor", ""},
		{"javascript:void(0)", ""},
		{"https://example.test", "https://example.test/"},
	}
	for _, c := range cases {
		if got := normalizeURL(origin, c.raw); got != c.want {
			t.Fatalf("normalizeURL(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestParseRobots(t *testing.T) {
	body := `
User-agent: *
Disallow: /private
Crawl-delay: 2

User-agent: handover-crawler
Disallow: /internal
`
	rules := parseRobots(body, defaultCrawlerUA)
	if rules.allowed("/internal/docs") {
		t.Fatalf("specific group should disallow /internal")
	}
	if !rules.allowed("/private") {
		t.Fatalf("specific group overrides the wildcard rules")
	}
	if !rules.allowed("/public") {
		t.Fatalf("unlisted paths stay allowed")
	}

	wildcard := parseRobots(body, "some-other-bot")
	if wildcard.allowed("/private/x") {
		t.Fatalf("wildcard group should disallow /private")
	}
	if wildcard.crawlDelay != 2*time.Second {
		t.Fatalf("crawl delay = %v", wildcard.crawlDelay)
	}
}
