package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeBoxFile struct {
	id   string
	name string
	sha1 string
}

func newFakeBox(t *testing.T, files []fakeBoxFile) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var downloads atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/2.0/folders/0/items", func(w http.ResponseWriter, r *http.Request) {
		entries := make([]map[string]any, 0, len(files))
		for _, f := range files {
			entries = append(entries, map[string]any{
				"type":        "file",
				"id":          f.id,
				"name":        f.name,
				"sha1":        f.sha1,
				"size":        int64(100),
				"modified_at": "2026-05-01T10:00:00Z",
				"created_by":  map[string]any{"name": "dana"},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_count": len(entries),
			"entries":     entries,
		})
	})
	mux.HandleFunc("/2.0/files/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/content") {
			http.NotFound(w, r)
			return
		}
		downloads.Add(1)
		fmt.Fprint(w, "file bytes")
	})
	return httptest.NewServer(mux), &downloads
}

func TestCloudFilesIncrementalSyncBySHA1(t *testing.T) {
	files := make([]fakeBoxFile, 10)
	for i := range files {
		files[i] = fakeBoxFile{
			id:   fmt.Sprintf("f-%d", i),
			name: fmt.Sprintf("doc-%d.pdf", i),
			sha1: fmt.Sprintf("sha-%d-v1", i),
		}
	}
	srv, downloads := newFakeBox(t, files)
	defer srv.Close()
	t.Setenv("CLOUDFILES_API_BASE_URL", srv.URL)

	stored := map[string]string{}
	lookup := func(_ context.Context, externalID string) (string, bool, error) {
		sha, ok := stored[externalID]
		return sha, ok, nil
	}

	newConn := func() Connector {
		conn, err := NewCloudFilesConnector(testLogger(t), "tenant-1", nil, nil, lookup, nil, nil)
		if err != nil {
			t.Fatalf("NewCloudFilesConnector: %v", err)
		}
		return conn
	}

	first := 0
	cursor, err := newConn().Sync(context.Background(), nil, func(ev Event) error {
		first++
		stored[ev.Doc.ExternalID] = ev.Doc.ContentSHA1
		return nil
	})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first != 10 {
		t.Fatalf("first sync emitted %d, want 10", first)
	}
	if cursor != "2026-05-01T10:00:00Z" {
		t.Fatalf("cursor = %q", cursor)
	}
	if downloads.Load() != 10 {
		t.Fatalf("first sync downloaded %d files", downloads.Load())
	}

	// one file changes upstream
	files[3].sha1 = "sha-3-v2"
	srv2, downloads2 := newFakeBox(t, files)
	defer srv2.Close()
	t.Setenv("CLOUDFILES_API_BASE_URL", srv2.URL)

	var updated []*Document
	if _, err := newConn().Sync(context.Background(), nil, func(ev Event) error {
		updated = append(updated, ev.Doc)
		return nil
	}); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if len(updated) != 1 {
		t.Fatalf("second sync emitted %d documents, want exactly 1", len(updated))
	}
	if updated[0].ExternalID != "f-3" || updated[0].ContentSHA1 != "sha-3-v2" {
		t.Fatalf("wrong document re-emitted: %+v", updated[0])
	}
	if downloads2.Load() != 1 {
		t.Fatalf("unchanged files must not be downloaded, got %d downloads", downloads2.Load())
	}
}

func TestCloudFilesExtensionAndSizeFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/folders/0/items") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"total_count": 3,
				"entries": []map[string]any{
					{"type": "file", "id": "a", "name": "keep.pdf", "sha1": "s1", "size": 100, "modified_at": "2026-05-01T10:00:00Z"},
					{"type": "file", "id": "b", "name": "skip.exe", "sha1": "s2", "size": 100, "modified_at": "2026-05-01T10:00:00Z"},
					{"type": "file", "id": "c", "name": "huge.pdf", "sha1": "s3", "size": 1 << 30, "modified_at": "2026-05-01T10:00:00Z"},
				},
			})
			return
		}
		fmt.Fprint(w, "bytes")
	}))
	defer srv.Close()
	t.Setenv("CLOUDFILES_API_BASE_URL", srv.URL)

	conn, err := NewCloudFilesConnector(testLogger(t), "tenant-1", nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewCloudFilesConnector: %v", err)
	}

	var emitted []*Document
	if _, err := conn.Sync(context.Background(), nil, func(ev Event) error {
		emitted = append(emitted, ev.Doc)
		return nil
	}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(emitted) != 1 || emitted[0].ExternalID != "a" {
		t.Fatalf("filters failed, emitted %+v", emitted)
	}
}
