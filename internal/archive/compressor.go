package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"db-backup-runner/internal/joberr"
)

// Compressor abstracts one stream compression algorithm. Implementations
// must be deterministic for identical input bytes: no timestamps or other
// varying metadata may be embedded in the stream.
type Compressor interface {
	// Name is the algorithm identifier used in configuration.
	Name() string
	// Extension is appended to archive file names.
	Extension() string
	// NewWriter wraps w with a compressing writer.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader wraps r with a decompressing reader.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Magic prefixes of the supported compression formats, used to detect the
// algorithm on extraction since artifacts may be renamed before restore.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// NewCompressor returns the compressor for the named algorithm.
func NewCompressor(algorithm string) (Compressor, error) {
	switch algorithm {
	case "", "gzip":
		return gzipCompressor{}, nil
	case "zstd":
		return zstdCompressor{}, nil
	case "lz4":
		return lz4Compressor{}, nil
	default:
		return nil, joberr.ArchiveUnsupported(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
}

// DetectCompressor identifies the algorithm from a stream prefix.
func DetectCompressor(prefix []byte) (Compressor, error) {
	switch {
	case bytes.HasPrefix(prefix, gzipMagic):
		return gzipCompressor{}, nil
	case bytes.HasPrefix(prefix, zstdMagic):
		return zstdCompressor{}, nil
	case bytes.HasPrefix(prefix, lz4Magic):
		return lz4Compressor{}, nil
	default:
		return nil, joberr.ArchiveUnsupported("stream does not start with a known compression magic", nil)
	}
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }
func (gzipCompressor) Extension() string { return ".gz" }

func (gzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	// Default header carries a zero mod-time, keeping output deterministic.
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to create gzip writer", err)
	}
	return zw, nil
}

func (gzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, joberr.ArchiveCorrupt("failed to open gzip stream", err)
	}
	return zr, nil
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return "zstd" }
func (zstdCompressor) Extension() string { return ".zst" }

func (zstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, joberr.ArchiveUnsupported("failed to create zstd writer", err)
	}
	return zw, nil
}

func (zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, joberr.ArchiveCorrupt("failed to open zstd stream", err)
	}
	return zr.IOReadCloser(), nil
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }
func (lz4Compressor) Extension() string { return ".lz4" }

func (lz4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(&lz4EOFReader{r: lz4.NewReader(r)}), nil
}

// lz4EOFReader latches io.EOF. The lz4 reader errors when read again after
// the stream end, and extraction sniffs the decompressed head through a
// buffered reader that may do exactly that on short streams.
type lz4EOFReader struct {
	r   io.Reader
	eof bool
}

func (l *lz4EOFReader) Read(p []byte) (int, error) {
	if l.eof {
		return 0, io.EOF
	}
	n, err := l.r.Read(p)
	if err == io.EOF {
		l.eof = true
	}
	return n, err
}
