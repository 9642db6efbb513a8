// Package archive turns dump artifacts into compressed upload artifacts and
// reverses the operation on restore. Single files become plain compressed
// streams; directory trees are wrapped in a tar stream first so relative
// paths survive the round trip. Output is deterministic for identical input
// bytes: neither the tar headers nor the compression headers embed
// timestamps.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

// Archiver implements the compress/extract stage.
type Archiver struct {
	comp   Compressor
	cipher *artifactCipher
	log    *logging.Logger
}

// New creates an Archiver using the named compression algorithm. A non-empty
// encryptionKey enables artifact encryption after compression.
func New(algorithm, encryptionKey string, log *logging.Logger) (*Archiver, error) {
	comp, err := NewCompressor(algorithm)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewDefaultLogger()
	}

	ar := &Archiver{comp: comp, log: log}
	if encryptionKey != "" {
		ar.cipher = newArtifactCipher(encryptionKey)
	}
	return ar, nil
}

// Compress produces a compressed artifact in destDir from a dump artifact.
// File artifacts become <name><ext>; directory artifacts become
// <name>.tar<ext> with entries rooted at the tree's base name.
func (ar *Archiver) Compress(ctx context.Context, a *artifact.Artifact, destDir string) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, joberr.Canceled("compression canceled", err)
	}

	base := filepath.Base(a.Path)
	var outPath string
	switch a.Shape {
	case artifact.ShapeFile:
		outPath = filepath.Join(destDir, base+ar.comp.Extension())
	case artifact.ShapeDir:
		outPath = filepath.Join(destDir, base+".tar"+ar.comp.Extension())
	default:
		return nil, joberr.ArchiveUnsupported(fmt.Sprintf("unknown artifact shape: %s", a.Shape), nil)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to create archive file", err)
	}

	cw, err := ar.comp.NewWriter(out)
	if err != nil {
		out.Close()
		return nil, err
	}

	switch a.Shape {
	case artifact.ShapeFile:
		err = copyFileInto(cw, a.Path)
	case artifact.ShapeDir:
		err = writeTar(ctx, cw, a.Path)
	}
	if err == nil {
		err = cw.Close()
	} else {
		cw.Close()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(outPath)
		if joberr.KindOf(err) != "" {
			return nil, err
		}
		return nil, joberr.ArchiveUnsupported("failed to write archive", err)
	}

	if ar.cipher != nil {
		if err := ar.cipher.encryptFile(outPath); err != nil {
			os.Remove(outPath)
			return nil, err
		}
	}

	return &artifact.Artifact{Path: outPath, Shape: artifact.ShapeFile, Stage: artifact.StageArchive}, nil
}

// Extract reverses Compress. The shape is detected from the decompressed
// stream itself, never from the file name, since artifacts may be renamed
// between upload and restore.
func (ar *Archiver) Extract(ctx context.Context, a *artifact.Artifact, destDir string) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, joberr.Canceled("extraction canceled", err)
	}

	in, err := os.Open(a.Path)
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to open archive file", err)
	}
	defer in.Close()

	var stream io.Reader = in

	// Encrypted artifacts carry their own magic ahead of the compression
	// header.
	br := bufio.NewReader(stream)
	prefix, _ := br.Peek(len(encMagic))
	if bytes.Equal(prefix, encMagic) {
		if ar.cipher == nil {
			return nil, joberr.ArchiveUnsupported("artifact is encrypted but no encryption key is configured", nil)
		}
		plaintext, err := ar.cipher.decryptStream(br)
		if err != nil {
			return nil, err
		}
		br = bufio.NewReader(bytes.NewReader(plaintext))
	}

	magic, err := br.Peek(4)
	if err != nil {
		return nil, joberr.ArchiveCorrupt("archive stream too short", err)
	}
	comp, err := DetectCompressor(magic)
	if err != nil {
		return nil, err
	}

	cr, err := comp.NewReader(br)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	// Sniff the decompressed stream for a tar header block.
	dr := bufio.NewReaderSize(cr, 1024)
	head, peekErr := dr.Peek(512)
	if peekErr != nil && peekErr != io.EOF {
		return nil, joberr.ArchiveCorrupt("failed to read decompressed stream", peekErr)
	}

	if isTarBlock(head) {
		return ar.extractTree(ctx, dr, destDir)
	}
	return ar.extractFile(dr, destDir, filepath.Base(a.Path), comp)
}

func (ar *Archiver) extractFile(r io.Reader, destDir, archiveName string, comp Compressor) (*artifact.Artifact, error) {
	name := strings.TrimSuffix(archiveName, comp.Extension())
	if name == archiveName || name == "" {
		name = "extracted"
	}

	outPath := filepath.Join(destDir, name)
	out, err := os.Create(outPath)
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to create extracted file", err)
	}

	_, err = io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(outPath)
		return nil, joberr.ArchiveCorrupt("failed to decompress stream", err)
	}

	return &artifact.Artifact{Path: outPath, Shape: artifact.ShapeFile, Stage: artifact.StageExtract}, nil
}

func (ar *Archiver) extractTree(ctx context.Context, r io.Reader, destDir string) (*artifact.Artifact, error) {
	tr := tar.NewReader(r)
	var root string

	for {
		if err := ctx.Err(); err != nil {
			return nil, joberr.Canceled("extraction canceled", err)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, joberr.ArchiveCorrupt("failed to read tar entry", err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || name == "" {
			continue
		}
		if !filepath.IsLocal(name) {
			return nil, joberr.ArchiveUnsupported(fmt.Sprintf("tar entry escapes extraction root: %s", hdr.Name), nil)
		}
		if root == "" {
			root = firstComponent(name)
		}

		target := filepath.Join(destDir, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, joberr.ArchiveUnsupported("failed to create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, joberr.ArchiveUnsupported("failed to create directory", err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return nil, joberr.ArchiveUnsupported("failed to create file", err)
			}
			_, err = io.Copy(out, tr)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return nil, joberr.ArchiveCorrupt("failed to extract tar entry", err)
			}
		default:
			return nil, joberr.ArchiveUnsupported(
				fmt.Sprintf("unsupported tar entry type %d for %s", hdr.Typeflag, hdr.Name), nil)
		}
	}

	if root == "" {
		return nil, joberr.ArchiveCorrupt("tar stream contains no entries", nil)
	}

	return &artifact.Artifact{
		Path:  filepath.Join(destDir, root),
		Shape: artifact.ShapeDir,
		Stage: artifact.StageExtract,
	}, nil
}

// writeTar archives the directory tree at dir, rooted at its base name.
// WalkDir visits entries in lexical order, so identical trees produce
// identical streams.
func writeTar(ctx context.Context, w io.Writer, dir string) error {
	tw := tar.NewWriter(w)
	base := filepath.Base(dir)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.Join(base, rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			hdr := &tar.Header{
				Name:     filepath.ToSlash(name) + "/",
				Typeflag: tar.TypeDir,
				Mode:     int64(info.Mode().Perm()),
			}
			return tw.WriteHeader(hdr)
		case info.Mode().IsRegular():
			hdr := &tar.Header{
				Name:     filepath.ToSlash(name),
				Typeflag: tar.TypeReg,
				Mode:     int64(info.Mode().Perm()),
				Size:     info.Size(),
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			return copyFileInto(tw, path)
		default:
			return joberr.ArchiveUnsupported(
				fmt.Sprintf("unsupported file type in dump tree: %s", path), nil)
		}
	})
	if err != nil {
		tw.Close()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return joberr.Canceled("compression canceled", err)
		}
		return err
	}
	return tw.Close()
}

func copyFileInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// isTarBlock reports whether a 512-byte block looks like a ustar header.
func isTarBlock(block []byte) bool {
	if len(block) < 263 {
		return false
	}
	return bytes.Equal(block[257:262], []byte("ustar"))
}

func firstComponent(name string) string {
	for {
		dir := filepath.Dir(name)
		if dir == "." || dir == string(filepath.Separator) {
			return name
		}
		name = dir
	}
}
