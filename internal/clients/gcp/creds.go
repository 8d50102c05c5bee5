package gcp

import (
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
)

func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	opts := []option.ClientOption{}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// ---------- shared helpers (package-wide) ----------

func ptrFloat(v float64) *float64 { return &v }

func collapseWhitespace(s string) string {
	// cheap, fast: Fields collapses all whitespace sequences to single spaces
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}

func parseGCSURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	trim := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trim, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid gs uri: %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 1 {
		return bucket, "", nil
	}
	key = parts[1]
	return bucket, key, nil
}
