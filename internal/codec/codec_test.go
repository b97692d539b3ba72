package codec

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/memcontext/vault/internal/model"
)

func TestPipeline_RoundTrip_Adaptive(t *testing.T) {
	p := New(Config{}, nil)
	original := []byte(strings.Repeat(`{"id":123,"name":"memory"},`, 200))

	compressed, tag := p.Compress(original)
	if tag == model.CompressionNone {
		t.Fatalf("expected compression to trigger on repetitive input")
	}

	decompressed, err := p.Decompress(compressed, tag)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(original, decompressed) {
		t.Error("decompressed data doesn't match original")
	}
}

func TestPipeline_BelowThreshold_NotCompressed(t *testing.T) {
	p := New(Config{}, nil)
	original := []byte("tiny")

	out, tag := p.Compress(original)
	if tag != model.CompressionNone {
		t.Errorf("expected CompressionNone for input below threshold, got %v", tag)
	}
	if !bytes.Equal(out, original) {
		t.Error("output should equal input when below threshold")
	}
}

func TestPipeline_LargeInput_SkipsTrialsGoesStraightToZstd(t *testing.T) {
	p := New(Config{LargeInputBytes: 1000}, nil)
	original := bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 1000)

	_, tag := p.Compress(original)
	if tag != model.CompressionZstd {
		t.Errorf("expected zstd for large input, got %v", tag)
	}
}

func TestPipeline_IncompressibleData_FallsBackToNone(t *testing.T) {
	p := New(Config{}, nil)
	original := make([]byte, 4096)
	_, _ = rand.Read(original)

	_, tag := p.Compress(original)
	if tag != model.CompressionNone {
		t.Errorf("expected CompressionNone for random data, got %v", tag)
	}
}

func TestPipeline_RoundTrip_EachAlgorithm(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 500)

	for _, algo := range []Algorithm{Zstd, Gzip, Zlib} {
		t.Run(string(algo), func(t *testing.T) {
			p := New(Config{Algorithm: algo}, nil)
			compressed, tag := p.Compress(original)
			if tag == model.CompressionNone {
				t.Fatalf("expected %s to compress repetitive input", algo)
			}
			decompressed, err := p.Decompress(compressed, tag)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(original, decompressed) {
				t.Error("decompressed data doesn't match original")
			}
		})
	}
}

func TestPipeline_Decompress_None(t *testing.T) {
	p := New(Config{}, nil)
	original := []byte("passthrough")

	out, err := p.Decompress(original, model.CompressionNone)
	if err != nil {
		t.Fatalf("Decompress(None) failed: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Error("CompressionNone should pass through unchanged")
	}
}

func TestPipeline_Decompress_CorruptData_ReturnsCorruptionError(t *testing.T) {
	p := New(Config{}, nil)

	_, err := p.Decompress([]byte("not a valid zstd frame"), model.CompressionZstd)
	if err == nil {
		t.Fatal("expected an error for corrupt zstd data")
	}
	if !model.IsCorruption(err) {
		t.Errorf("expected a CorruptionError, got %T: %v", err, err)
	}
}

func TestPipeline_Decompress_UnknownTag(t *testing.T) {
	p := New(Config{}, nil)

	_, err := p.Decompress([]byte("data"), model.CompressionType("lz4"))
	if !model.IsCorruption(err) {
		t.Errorf("expected a CorruptionError for unknown tag, got %T: %v", err, err)
	}
}

func TestPipeline_Compress_EmptyData(t *testing.T) {
	p := New(Config{}, nil)

	out, tag := p.Compress(nil)
	if tag != model.CompressionNone || len(out) != 0 {
		t.Errorf("expected empty/none result for nil input, got tag=%v len=%d", tag, len(out))
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name           string
		original, comp int
		want           float64
	}{
		{"half", 1000, 500, 0.5},
		{"none", 1000, 1000, 0},
		{"empty", 0, 0, 0},
		{"expanded", 100, 150, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ratio(tt.original, tt.comp); got != tt.want {
				t.Errorf("Ratio(%d, %d) = %v, want %v", tt.original, tt.comp, got, tt.want)
			}
		})
	}
}
