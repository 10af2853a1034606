// Package optimizer produces the transmitted form of a canonical document:
// whitespace-normalized and, above the size cap, gzip-compressed.
package optimizer

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"

	dErrors "efile/pkg/domain-errors"
)

// DefaultMaxSize is the largest payload transmitted uncompressed and the
// default batch cap.
const DefaultMaxSize = 10 << 20

// MaxDecompressedSize bounds what Decompress inflates. Oversized documents
// are legal, so the bound sits well above the batch cap.
const MaxDecompressedSize = 8 * DefaultMaxSize

var gzipMagic = []byte{0x1f, 0x8b}

// Optimized is the result of Optimize.
type Optimized struct {
	Data         []byte
	Compressed   bool
	OriginalSize int
}

// Size is the length of the optimized payload.
func (o Optimized) Size() int { return len(o.Data) }

type Optimizer struct {
	maxSize int
	level   int
	logger  *slog.Logger
}

type Option func(*Optimizer)

// WithMaxSize sets the compression threshold and batch cap in bytes.
func WithMaxSize(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithLevel sets the gzip compression level.
func WithLevel(level int) Option {
	return func(o *Optimizer) { o.level = level }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = logger }
}

func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		maxSize: DefaultMaxSize,
		level:   gzip.BestCompression,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxSize returns the configured cap.
func (o *Optimizer) MaxSize() int { return o.maxSize }

// Optimize canonicalizes whitespace and compresses the result when it exceeds
// the cap. Gzip input is decompressed first, so optimizing an optimized
// payload returns the same bytes.
func (o *Optimizer) Optimize(data []byte) (Optimized, error) {
	if IsCompressed(data) {
		plain, err := Decompress(data)
		if err != nil {
			return Optimized{}, err
		}
		data = plain
	}
	canonical := Canonicalize(data)
	out := Optimized{Data: canonical, OriginalSize: len(canonical)}
	if len(canonical) <= o.maxSize {
		return out, nil
	}

	compressed, err := o.compress(canonical)
	if err != nil {
		return Optimized{}, err
	}
	out.Data = compressed
	out.Compressed = true
	o.logger.Debug("document compressed",
		"original_bytes", len(canonical),
		"compressed_bytes", len(compressed),
	)
	return out, nil
}

// compress writes a gzip stream with an empty header so equal input always
// yields equal output.
func (o *Optimizer) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, o.level)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid compression level")
	}
	if _, err := zw.Write(data); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compress document")
	}
	if err := zw.Close(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compress document")
	}
	return buf.Bytes(), nil
}

// IsCompressed reports whether data starts with the gzip magic number.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Decompress inflates a gzip payload of at most MaxDecompressedSize bytes.
func Decompress(data []byte) ([]byte, error) {
	return DecompressLimit(data, MaxDecompressedSize)
}

// DecompressLimit inflates a gzip payload, refusing output longer than limit.
func DecompressLimit(data []byte, limit int) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read compressed document")
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read compressed document")
	}
	if len(out) > limit {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("compressed document inflates beyond %d bytes", limit))
	}
	return out, nil
}

// Canonicalize converts CRLF and lone CR to LF, drops whitespace-only runs
// between a closing '>' and the next '<', and trims both ends. Text content
// with non-whitespace characters is left untouched.
func Canonicalize(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	data = bytes.TrimSpace(data)

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		out = append(out, data[i])
		if data[i] != '>' {
			continue
		}
		j := i + 1
		for j < len(data) && isSpace(data[j]) {
			j++
		}
		if j < len(data) && data[j] == '<' {
			i = j - 1
		}
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}
