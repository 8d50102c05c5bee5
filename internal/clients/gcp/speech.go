package gcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loomwell/handover-backend/internal/logger"
)

// Transcriber converts recorded voice answers into text. Confidence is the
// average of per-result alternative confidences, 0 when the API reports none.
type Transcriber interface {
	TranscribeBytes(ctx context.Context, audio []byte, mimeType string) (*Transcript, error)
	Close() error
}

type Transcript struct {
	Provider   string  `json:"provider"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type transcriber struct {
	log        *logger.Logger
	client     *speech.Client
	language   string
	maxRetries int
}

func NewTranscriber(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Transcriber")

	ctx := context.Background()
	c, err := speech.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	lang := strings.TrimSpace(os.Getenv("SPEECH_LANGUAGE_CODE"))
	if lang == "" {
		lang = "en-US"
	}

	return &transcriber{
		log:        slog,
		client:     c,
		language:   lang,
		maxRetries: 4,
	}, nil
}

func (t *transcriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *transcriber) TranscribeBytes(ctx context.Context, audio []byte, mimeType string) (*Transcript, error) {
	if len(audio) == 0 {
		return &Transcript{Provider: "gcp_speech", Text: ""}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               t.language,
			EnableAutomaticPunctuation: true,
			Encoding:                   inferEncoding(mimeType),
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	resp, err := t.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := t.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}

	return parseTranscript(resp), nil
}

func inferEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(m))

	switch {
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func parseTranscript(resp *speechpb.LongRunningRecognizeResponse) *Transcript {
	out := &Transcript{Provider: "gcp_speech"}
	if resp == nil || len(resp.Results) == 0 {
		return out
	}

	var full strings.Builder
	var confSum float64
	confN := 0

	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		txt := strings.TrimSpace(alt.Transcript)
		if txt == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(txt)
		if alt.Confidence > 0 {
			confSum += float64(alt.Confidence)
			confN++
		}
	}

	out.Text = strings.TrimSpace(full.String())
	if confN > 0 {
		out.Confidence = confSum / float64(confN)
	}
	return out
}

func (t *transcriber) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
