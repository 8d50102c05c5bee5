package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/clients/gcp"
	"github.com/loomwell/handover-backend/internal/connectors"
	"github.com/loomwell/handover-backend/internal/logger"
	apperr "github.com/loomwell/handover-backend/internal/pkg/errors"
	"github.com/loomwell/handover-backend/internal/repos"
	"github.com/loomwell/handover-backend/internal/types"
)

// ConnectorFactory builds a live connector from its stored row, wiring the
// hash-lookup skip path and credential rotation back into the store.
type ConnectorFactory interface {
	Build(row *types.Connector) (connectors.Connector, error)
}

type connectorFactory struct {
	log   *logger.Logger
	docs  repos.DocumentRepo
	conns repos.ConnectorRepo
	blobs gcp.BlobStore // nil disables cloud-files blob retention
}

func NewConnectorFactory(log *logger.Logger, docs repos.DocumentRepo, conns repos.ConnectorRepo, blobs gcp.BlobStore) (ConnectorFactory, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if docs == nil || conns == nil {
		return nil, fmt.Errorf("repos required")
	}
	return &connectorFactory{log: log, docs: docs, conns: conns, blobs: blobs}, nil
}

func (f *connectorFactory) Build(row *types.Connector) (connectors.Connector, error) {
	if row == nil {
		return nil, apperr.ErrInvalidArgument
	}

	lookup := f.hashLookup(row.TenantID)
	persist := f.persistCreds(row.ID)

	switch row.Type {
	case connectors.TypeEmailSource:
		return connectors.NewEmailConnector(f.log, row.Credentials, row.Settings, lookup, persist)
	case connectors.TypeChatSource:
		return connectors.NewChatConnector(f.log, row.Credentials, row.Settings, lookup, persist)
	case connectors.TypeCloudFiles:
		var blobs connectors.BlobUploader
		if f.blobs != nil {
			blobs = f.blobs
		}
		return connectors.NewCloudFilesConnector(f.log, row.TenantID.String(), row.Credentials, row.Settings, lookup, blobs, persist)
	case connectors.TypeCodeHost:
		return connectors.NewCodeHostConnector(f.log, row.Credentials, row.Settings, lookup, persist)
	case connectors.TypeWebCrawler:
		return connectors.NewWebCrawlerConnector(f.log, row.Settings, lookup)
	default:
		return nil, fmt.Errorf("%w: unknown connector type %q", apperr.ErrInvalidArgument, row.Type)
	}
}

func (f *connectorFactory) hashLookup(tenantID uuid.UUID) connectors.HashLookup {
	return func(ctx context.Context, externalID string) (string, bool, error) {
		return f.docs.KnownHash(ctx, tenantID, externalID)
	}
}

func (f *connectorFactory) persistCreds(connectorID uuid.UUID) func(ctx context.Context, creds []byte) error {
	return func(ctx context.Context, creds []byte) error {
		return f.conns.UpdateCredentials(ctx, nil, connectorID, creds)
	}
}
