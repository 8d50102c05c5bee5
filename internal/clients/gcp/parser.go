package gcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/loomwell/handover-backend/internal/logger"
)

// DocumentParser turns raw file bytes into plain text. Plain-text formats
// decode locally; PDFs and Office documents go through Document AI; images
// go through Vision OCR. A format we cannot parse yields an empty result
// with a warning so the caller records the document and moves on.
type DocumentParser interface {
	ParseBytes(ctx context.Context, filename string, mimeType string, data []byte) (*ParseResult, error)
	Close() error
}

type ParseResult struct {
	Provider    string    `json:"provider"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type,omitempty"`
	PrimaryText string    `json:"primary_text"`
	Segments    []Segment `json:"segments,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// Segment is one extracted region of a parsed file (page, paragraph block,
// OCR page). Offsets into the original file are not preserved.
type Segment struct {
	Text       string         `json:"text"`
	Page       *int           `json:"page,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type parseKind int

const (
	kindUnknown parseKind = iota
	kindText
	kindHostedDoc
	kindImage
)

type documentParser struct {
	log *logger.Logger

	docClient    *documentai.DocumentProcessorClient
	visionClient *vision.ImageAnnotatorClient

	projectID   string
	location    string
	processorID string
}

func NewDocumentParser(log *logger.Logger) (DocumentParser, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.DocumentParser")

	ctx := context.Background()

	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	// Document AI needs a regional endpoint; Vision does not.
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	dc, err := documentai.NewDocumentProcessorClient(ctx, docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	vc, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		_ = dc.Close()
		return nil, fmt.Errorf("vision client: %w", err)
	}

	slog.Info("Document parser initialized", "documentai_endpoint", endpoint)

	return &documentParser{
		log:          slog,
		docClient:    dc,
		visionClient: vc,
		projectID:    strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID")),
		location:     location,
		processorID:  strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID")),
	}, nil
}

func (p *documentParser) Close() error {
	if p == nil {
		return nil
	}
	if p.docClient != nil {
		_ = p.docClient.Close()
	}
	if p.visionClient != nil {
		_ = p.visionClient.Close()
	}
	return nil
}

func (p *documentParser) ParseBytes(ctx context.Context, filename string, mimeType string, data []byte) (*ParseResult, error) {
	if len(data) == 0 {
		return &ParseResult{Provider: "local", Filename: filename, MimeType: mimeType, PrimaryText: ""}, nil
	}

	kind, resolvedMime := classifyFile(filename, mimeType)

	switch kind {
	case kindText:
		return parsePlainText(filename, resolvedMime, data), nil
	case kindHostedDoc:
		return p.parseHostedDoc(ctx, filename, resolvedMime, data)
	case kindImage:
		return p.parseImage(ctx, filename, resolvedMime, data)
	default:
		p.log.Warn("Unsupported file format; returning empty text",
			"filename", filename,
			"mime_type", mimeType,
		)
		return &ParseResult{
			Provider: "local",
			Filename: filename,
			MimeType: mimeType,
			Warnings: []string{fmt.Sprintf("unsupported format: %s", filepath.Ext(filename))},
		}, nil
	}
}

func classifyFile(filename, mimeType string) (parseKind, string) {
	ext := strings.ToLower(filepath.Ext(filename))
	m := strings.ToLower(strings.TrimSpace(mimeType))

	switch ext {
	case ".txt", ".md", ".markdown", ".csv", ".tsv", ".json", ".yaml", ".yml", ".log", ".rst":
		return kindText, orDefault(m, "text/plain")
	case ".pdf":
		return kindHostedDoc, "application/pdf"
	case ".docx":
		return kindHostedDoc, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return kindHostedDoc, "application/msword"
	case ".pptx":
		return kindHostedDoc, "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".xlsx":
		return kindHostedDoc, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".png":
		return kindImage, "image/png"
	case ".jpg", ".jpeg":
		return kindImage, "image/jpeg"
	case ".gif":
		return kindImage, "image/gif"
	case ".webp":
		return kindImage, "image/webp"
	case ".tif", ".tiff":
		return kindImage, "image/tiff"
	}

	switch {
	case strings.HasPrefix(m, "text/"):
		return kindText, m
	case m == "application/pdf":
		return kindHostedDoc, m
	case strings.HasPrefix(m, "image/"):
		return kindImage, m
	}
	return kindUnknown, m
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func parsePlainText(filename, mimeType string, data []byte) *ParseResult {
	// Strip a UTF-8 BOM and replace invalid sequences rather than failing;
	// connectors hand us whatever encoding the source produced.
	s := strings.TrimPrefix(string(data), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.TrimSpace(s)

	out := &ParseResult{
		Provider:    "local",
		Filename:    filename,
		MimeType:    mimeType,
		PrimaryText: s,
	}
	if s != "" {
		out.Segments = []Segment{{
			Text:     s,
			Metadata: map[string]any{"kind": "plain_text", "provider": "local"},
		}}
	}
	return out
}

func (p *documentParser) parseHostedDoc(ctx context.Context, filename, mimeType string, data []byte) (*ParseResult, error) {
	if p.projectID == "" || p.processorID == "" {
		return nil, fmt.Errorf("documentai not configured (DOCUMENTAI_PROJECT_ID / DOCUMENTAI_PROCESSOR_ID)")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", p.projectID, p.location, p.processorID)

	resp, err := p.docClient.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &ParseResult{Provider: "gcp_documentai", Filename: filename, MimeType: mimeType, PrimaryText: ""}, nil
	}

	doc := resp.Document
	out := &ParseResult{
		Provider:    "gcp_documentai",
		Filename:    filename,
		MimeType:    mimeType,
		PrimaryText: strings.TrimSpace(doc.Text),
	}

	for _, pg := range doc.Pages {
		if pg == nil {
			continue
		}
		pageNum := int(pg.PageNumber)

		var pageText strings.Builder
		for _, para := range pg.Paragraphs {
			if para == nil || para.Layout == nil || para.Layout.TextAnchor == nil {
				continue
			}
			t := strings.TrimSpace(textFromAnchor(doc.Text, para.Layout.TextAnchor))
			if t == "" {
				continue
			}
			pageText.WriteString(t)
			pageText.WriteString("\n")
		}

		pt := strings.TrimSpace(pageText.String())
		if pt == "" {
			continue
		}
		pn := pageNum
		out.Segments = append(out.Segments, Segment{
			Text: pt,
			Page: &pn,
			Metadata: map[string]any{
				"kind":     "docai_page_text",
				"provider": "gcp_documentai",
			},
		})
	}

	// Some processors populate doc.Text but omit structured paragraphs.
	if len(out.Segments) == 0 && out.PrimaryText != "" {
		out.Segments = append(out.Segments, Segment{
			Text:     out.PrimaryText,
			Metadata: map[string]any{"kind": "docai_primary_text", "provider": "gcp_documentai"},
		})
	}
	return out, nil
}

func (p *documentParser) parseImage(ctx context.Context, filename, mimeType string, data []byte) (*ParseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	br := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := p.visionClient.BatchAnnotateImages(ctx, br)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &ParseResult{Provider: "gcp_vision", Filename: filename, MimeType: mimeType, PrimaryText: ""}, nil
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	fta := r0.FullTextAnnotation
	if fta == nil || strings.TrimSpace(fta.Text) == "" {
		return &ParseResult{Provider: "gcp_vision", Filename: filename, MimeType: mimeType, PrimaryText: ""}, nil
	}

	primary := collapseWhitespace(fta.Text)
	conf := avgBlockConfidence(fta.Pages)

	pn := 1
	return &ParseResult{
		Provider:    "gcp_vision",
		Filename:    filename,
		MimeType:    mimeType,
		PrimaryText: primary,
		Segments: []Segment{{
			Text:       primary,
			Page:       &pn,
			Confidence: ptrFloat(conf),
			Metadata:   map[string]any{"kind": "ocr_text", "provider": "gcp_vision"},
		}},
	}, nil
}

func avgBlockConfidence(pages []*visionpb.Page) float64 {
	var sum float64
	n := 0
	for _, pg := range pages {
		if pg == nil {
			continue
		}
		for _, b := range pg.Blocks {
			if b == nil || b.Confidence <= 0 {
				continue
			}
			sum += float64(b.Confidence)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}
