// Package artifact defines the local temporary files and directories passed
// between pipeline stages.
package artifact

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Shape tells the archive stage whether an artifact is a single file or a
// directory tree needing a path-preserving archive format.
type Shape string

const (
	ShapeFile Shape = "file"
	ShapeDir  Shape = "dir"
)

// Stage tags an artifact with its stage of origin.
type Stage string

const (
	StageDump    Stage = "dump"
	StageArchive Stage = "archive"
	StageExtract Stage = "extract"
)

// Artifact references a local temporary file or directory. Artifacts are
// exclusively owned by the orchestrator for the duration of the job; the
// orchestrator removes every artifact it registered on every exit path.
type Artifact struct {
	Path  string
	Shape Shape
	Stage Stage
}

// Size returns the artifact's byte size; for directory trees this is the sum
// of all regular files.
func (a *Artifact) Size() (int64, error) {
	info, err := os.Stat(a.Path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(a.Path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Remove deletes the artifact from disk.
func (a *Artifact) Remove() error {
	return os.RemoveAll(a.Path)
}
