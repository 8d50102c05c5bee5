package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loomwell/handover-backend/internal/clients/gcp"
	neo4jdb "github.com/loomwell/handover-backend/internal/clients/neo4j"
	"github.com/loomwell/handover-backend/internal/clients/openai"
	"github.com/loomwell/handover-backend/internal/clients/pinecone"
	"github.com/loomwell/handover-backend/internal/clients/redis"
	"github.com/loomwell/handover-backend/internal/logger"
)

// Clients holds every external dependency. Bus, Blobs, Transcriber, and
// Neo4j are optional and stay nil when their backing service is not
// configured.
type Clients struct {
	OpenAI      openai.Client
	Pinecone    pinecone.Client
	VectorStore pinecone.VectorStore
	Parser      gcp.DocumentParser
	Transcriber gcp.Transcriber
	Blobs       gcp.BlobStore
	Bus         redis.EventBus
	Neo4j       *neo4jdb.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	pc, err := pinecone.New(log, pinecone.Config{
		APIKey:  cfg.PineconeAPIKey,
		Timeout: cfg.PineconeTimeout,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init pinecone client: %w", err)
	}
	store, err := pinecone.NewVectorStore(log, pc)
	if err != nil {
		return Clients{}, fmt.Errorf("init vector store: %w", err)
	}

	parser, err := gcp.NewDocumentParser(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init document parser: %w", err)
	}

	// Voice answers degrade to text-only when speech cannot initialize.
	var transcriber gcp.Transcriber
	if t, err := gcp.NewTranscriber(log); err != nil {
		log.Warn("Speech transcription unavailable", "error", err.Error())
	} else {
		transcriber = t
	}

	var blobs gcp.BlobStore
	if strings.TrimSpace(os.Getenv("HANDOVER_GCS_BUCKET")) != "" {
		b, err := gcp.NewBlobStore(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init blob store: %w", err)
		}
		blobs = b
	}

	var bus redis.EventBus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		b, err := redis.NewEventBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis event bus: %w", err)
		}
		bus = b
	}

	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j client: %w", err)
	}

	return Clients{
		OpenAI:      openaiClient,
		Pinecone:    pc,
		VectorStore: store,
		Parser:      parser,
		Transcriber: transcriber,
		Blobs:       blobs,
		Bus:         bus,
		Neo4j:       neo,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
	if c.Transcriber != nil {
		_ = c.Transcriber.Close()
	}
	if c.Parser != nil {
		_ = c.Parser.Close()
	}
}
