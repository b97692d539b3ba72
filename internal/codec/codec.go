// Package codec implements the compression pipeline of spec §4.1: turning a
// byte string into a possibly-smaller byte string plus a compression-type
// tag, and reversing that transformation with bit-exactness.
//
// The zstd path is grounded on FairForge's internal/crypto/compression.go
// (klauspost/compress/zstd, pooled encoder/decoder via sync.Once); gzip and
// zlib are the two other tags the spec's enum names, implemented with the
// standard library the way the teacher's internal/drivers/compression.go
// reaches for compress/gzip directly for its single-algorithm driver.
package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/model"
)

// Algorithm selects which codec(s) Pipeline.Compress considers.
type Algorithm string

const (
	Adaptive Algorithm = "adaptive"
	Zstd     Algorithm = "zstd"
	Gzip     Algorithm = "gzip"
	Zlib     Algorithm = "zlib"
	None     Algorithm = "none"
)

// Config configures a Pipeline. Zero values are replaced by spec defaults.
type Config struct {
	Algorithm       Algorithm // default Adaptive
	Level           int       // zstd level, 0-22; default 3
	ThresholdBytes  int       // inputs shorter than this are never compressed; default 100
	LargeInputBytes int       // inputs at or above this skip trials and go straight to zstd; default 50000
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = Adaptive
	}
	if c.Level <= 0 {
		c.Level = 3
	}
	if c.ThresholdBytes <= 0 {
		c.ThresholdBytes = 100
	}
	if c.LargeInputBytes <= 0 {
		c.LargeInputBytes = 50000
	}
	return c
}

// Pipeline compresses and decompresses byte strings per spec §4.1.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

// New builds a Pipeline. logger may be nil, in which case a no-op logger is used.
func New(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg.withDefaults(), logger: logger}
}

func (p *Pipeline) zstdEncoder() (*zstd.Encoder, error) {
	p.encOnce.Do(func() {
		p.enc, p.encErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(p.cfg.Level)),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return p.enc, p.encErr
}

func (p *Pipeline) zstdDecoder() (*zstd.Decoder, error) {
	p.decOnce.Do(func() {
		p.dec, p.decErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(256<<20),
		)
	})
	return p.dec, p.decErr
}

func (p *Pipeline) compressZstd(data []byte) ([]byte, error) {
	enc, err := p.zstdEncoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (p *Pipeline) decompressZstd(data []byte) ([]byte, error) {
	dec, err := p.zstdDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compress implements spec §4.1's compress operation.
func (p *Pipeline) Compress(data []byte) ([]byte, model.CompressionType) {
	if len(data) < p.cfg.ThresholdBytes {
		return data, model.CompressionNone
	}

	if p.cfg.Algorithm != Adaptive {
		out, tag, ok := p.trySingle(p.cfg.Algorithm, data)
		if !ok {
			return data, model.CompressionNone
		}
		return out, tag
	}

	if len(data) >= p.cfg.LargeInputBytes {
		out, err := p.compressZstd(data)
		if err != nil {
			p.logger.Warn("zstd compression failed on large input, falling back", zap.Error(err))
			return data, model.CompressionNone
		}
		if len(out) >= len(data) {
			return data, model.CompressionNone
		}
		return out, model.CompressionZstd
	}

	// Trial zstd, gzip, zlib; pick the smallest, ties broken zstd > gzip > zlib.
	type candidate struct {
		tag  model.CompressionType
		data []byte
	}
	var best *candidate

	consider := func(tag model.CompressionType, out []byte, err error) {
		if err != nil {
			p.logger.Warn("compression trial failed", zap.String("algorithm", string(tag)), zap.Error(err))
			return
		}
		if best == nil || len(out) < len(best.data) {
			best = &candidate{tag: tag, data: out}
		}
	}

	zstdOut, zstdErr := p.compressZstd(data)
	consider(model.CompressionZstd, zstdOut, zstdErr)
	gzipOut, gzipErr := compressGzip(data)
	consider(model.CompressionGzip, gzipOut, gzipErr)
	zlibOut, zlibErr := compressZlib(data)
	consider(model.CompressionZlib, zlibOut, zlibErr)

	if best == nil || len(best.data) >= len(data) {
		return data, model.CompressionNone
	}
	return best.data, best.tag
}

func (p *Pipeline) trySingle(algo Algorithm, data []byte) ([]byte, model.CompressionType, bool) {
	var out []byte
	var err error
	var tag model.CompressionType

	switch algo {
	case Zstd:
		out, err = p.compressZstd(data)
		tag = model.CompressionZstd
	case Gzip:
		out, err = compressGzip(data)
		tag = model.CompressionGzip
	case Zlib:
		out, err = compressZlib(data)
		tag = model.CompressionZlib
	case None:
		return data, model.CompressionNone, true
	default:
		p.logger.Warn("unknown compression algorithm, falling back to none", zap.String("algorithm", string(algo)))
		return nil, "", false
	}

	if err != nil {
		p.logger.Warn("compression failed, falling back to none", zap.String("algorithm", string(algo)), zap.Error(err))
		return nil, "", false
	}
	if len(out) >= len(data) {
		return nil, "", false
	}
	return out, tag, true
}

// Decompress implements spec §4.1's decompress operation. It must be an
// exact inverse of Compress; any failure is a Corruption error, never a
// silent fallback to the original bytes (spec §9 Open Question).
func (p *Pipeline) Decompress(data []byte, tag model.CompressionType) ([]byte, error) {
	switch tag {
	case model.CompressionNone, "":
		return data, nil
	case model.CompressionZstd:
		out, err := p.decompressZstd(data)
		if err != nil {
			return nil, model.ErrCorruption("zstd decompression failed", err)
		}
		return out, nil
	case model.CompressionGzip:
		out, err := decompressGzip(data)
		if err != nil {
			return nil, model.ErrCorruption("gzip decompression failed", err)
		}
		return out, nil
	case model.CompressionZlib:
		out, err := decompressZlib(data)
		if err != nil {
			return nil, model.ErrCorruption("zlib decompression failed", err)
		}
		return out, nil
	default:
		return nil, model.ErrCorruption(fmt.Sprintf("unknown compression tag %q", tag), nil)
	}
}

// Ratio computes 1 - compressed/original, clamped at 0 when original is empty.
func Ratio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	r := 1 - float64(compressedSize)/float64(originalSize)
	if r < 0 {
		return 0
	}
	return r
}
