package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/clients/redis"
	"github.com/loomwell/handover-backend/internal/logger"
)

// clientBuffer drops slow SSE consumers instead of blocking the forwarder.
const clientBuffer = 64

// ProgressHub owns the single bus subscription and fans events out to SSE
// clients, each scoped to its own tenant.
type ProgressHub struct {
	log *logger.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	tenantID uuid.UUID
	events   chan redis.ProgressEvent
}

func NewProgressHub(ctx context.Context, log *logger.Logger, bus redis.EventBus) (*ProgressHub, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	h := &ProgressHub{
		log:     log.With("service", "ProgressHub"),
		clients: map[*hubClient]struct{}{},
	}
	if bus != nil {
		if err := bus.StartForwarder(ctx, h.dispatch); err != nil {
			return nil, fmt.Errorf("start progress forwarder: %w", err)
		}
	}
	return h, nil
}

func (h *ProgressHub) dispatch(ev redis.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.tenantID != ev.TenantID {
			continue
		}
		select {
		case client.events <- ev:
		default:
			// consumer fell behind; it still gets future events
		}
	}
}

// Subscribe registers an SSE client; the returned cancel must be called when
// the stream ends.
func (h *ProgressHub) Subscribe(tenantID uuid.UUID) (<-chan redis.ProgressEvent, func()) {
	client := &hubClient{
		tenantID: tenantID,
		events:   make(chan redis.ProgressEvent, clientBuffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
	}
	return client.events, cancel
}
