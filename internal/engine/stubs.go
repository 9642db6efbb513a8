package engine

import (
	"context"
	"fmt"

	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

func init() {
	for _, kind := range []string{"cassandra", "oracle", "mssql", "couchbase", "arangodb"} {
		kind := kind
		Register(kind, func(_ *logging.Logger) Adapter {
			return &stubAdapter{kind: kind}
		})
	}
}

// stubAdapter reserves an engine identifier that the scheduler may send but
// that this runner has no tooling for yet. Both operations fail before any
// network or filesystem work.
type stubAdapter struct {
	kind string
}

func (s *stubAdapter) Kind() string { return s.kind }
func (s *stubAdapter) Shape() artifact.Shape { return artifact.ShapeFile }
func (s *stubAdapter) RestoreSemantics() RestoreSemantics { return RestoreReplace }

func (s *stubAdapter) Dump(_ context.Context, _ *config.ConnectionConfig, _ string) (*artifact.Artifact, error) {
	return nil, joberr.NotImplemented(fmt.Sprintf("%s backup is not implemented", s.kind))
}

func (s *stubAdapter) Restore(_ context.Context, _ *config.ConnectionConfig, _ *artifact.Artifact) error {
	return joberr.NotImplemented(fmt.Sprintf("%s restore is not implemented", s.kind))
}
