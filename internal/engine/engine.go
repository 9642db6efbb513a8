// Package engine defines the per-database adapter contract and the adapters
// shipped with the runner. An adapter knows how to produce a dump artifact
// with the engine's native tooling and how to load one back; everything else
// (compression, upload, verification, callbacks) is engine-agnostic and
// lives in the pipeline.
package engine

import (
	"context"

	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/config"
)

// RestoreSemantics declares what a restore does to data already present in
// the target database. The pipeline surfaces this in logs and callbacks so
// operators know what they asked for.
type RestoreSemantics string

const (
	// RestoreReplace means existing objects are dropped and recreated.
	RestoreReplace RestoreSemantics = "replace"
	// RestoreMerge means restored data is layered over what is already
	// there; collisions follow the engine tool's rules.
	RestoreMerge RestoreSemantics = "merge"
)

// Adapter is implemented once per database engine.
type Adapter interface {
	// Kind returns the engine identifier ("mysql", "postgresql", ...).
	Kind() string

	// Shape tells the archive stage whether Dump produces a single file
	// or a directory tree.
	Shape() artifact.Shape

	// RestoreSemantics declares the adapter's restore behavior.
	RestoreSemantics() RestoreSemantics

	// Dump writes a logical backup into destDir and returns the artifact.
	// The context carries the dump deadline.
	Dump(ctx context.Context, conn *config.ConnectionConfig, destDir string) (*artifact.Artifact, error)

	// Restore loads the artifact into the target database.
	Restore(ctx context.Context, conn *config.ConnectionConfig, a *artifact.Artifact) error
}
