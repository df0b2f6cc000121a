package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestSmallPayloadPassesThroughUncompressed(t *testing.T) {
	m := New(DefaultConfig())
	data := []byte("short")
	result, err := m.Compress(data, "")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if result.Algorithm != None {
		t.Errorf("Algorithm = %v, want none for payload below MinSizeThreshold", result.Algorithm)
	}
	if !bytes.Equal(result.Data, data) {
		t.Error("expected passthrough data to be unchanged")
	}
}

func TestCompressDecompressRoundTrips(t *testing.T) {
	m := New(DefaultConfig())
	original := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	for _, alg := range []Algorithm{GZIP, ZLIB, BZ2, LZMA} {
		result, err := m.Compress(original, alg)
		if err != nil {
			t.Fatalf("Compress(%s) error = %v", alg, err)
		}
		if result.Algorithm != alg {
			t.Errorf("Algorithm = %v, want %v", result.Algorithm, alg)
		}
		decompressed, err := m.Decompress(result.Data, alg)
		if err != nil {
			t.Fatalf("Decompress(%s) error = %v", alg, err)
		}
		if !bytes.Equal(decompressed, original) {
			t.Errorf("round trip via %s did not reproduce the original payload", alg)
		}
	}
}

func TestSelectAlgorithmByEntropy(t *testing.T) {
	repetitive := bytes.Repeat([]byte{0x41}, 6000)
	if got := selectAlgorithm(repetitive); got != BZ2 {
		t.Errorf("selectAlgorithm(low-entropy small) = %v, want bz2", got)
	}

	largeRepetitive := bytes.Repeat([]byte{0x41}, 200000)
	if got := selectAlgorithm(largeRepetitive); got != LZMA {
		t.Errorf("selectAlgorithm(low-entropy large) = %v, want lzma", got)
	}

	random := make([]byte, 6000)
	for i := range random {
		random[i] = byte(i*2654435761 + 12345)
	}
	if got := selectAlgorithm(random); got != GZIP && got != ZLIB {
		t.Errorf("selectAlgorithm(high-entropy) = %v, want gzip or zlib", got)
	}
}

func TestCacheHitAvoidsRecompression(t *testing.T) {
	m := New(DefaultConfig())
	original := []byte(strings.Repeat("cache me if you can ", 200))

	first, err := m.Compress(original, GZIP)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if first.Cached {
		t.Fatal("expected the first compression to miss the cache")
	}

	second, err := m.Compress(original, GZIP)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !second.Cached {
		t.Error("expected the second identical compression to hit the cache")
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("expected cached data to match the original compression")
	}

	stats := m.Stats()
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
}

func TestCacheEvictsOldestOverCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheCapacity = 2
	m := New(cfg)

	payloads := [][]byte{
		bytes.Repeat([]byte("a"), 2000),
		bytes.Repeat([]byte("b"), 2000),
		bytes.Repeat([]byte("c"), 2000),
	}
	for _, p := range payloads {
		if _, err := m.Compress(p, GZIP); err != nil {
			t.Fatalf("Compress() error = %v", err)
		}
	}
	if len(m.cache) > 2 {
		t.Errorf("cache size = %d, want capped at 2", len(m.cache))
	}
}

func TestLargePayloadOffloadsAndStillRoundTrips(t *testing.T) {
	m := New(DefaultConfig())
	original := bytes.Repeat([]byte("offload this payload through the worker pool. "), 3000)

	result, err := m.Compress(original, ZLIB)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	decompressed, err := m.Decompress(result.Data, ZLIB)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Error("expected offloaded compression to round trip correctly")
	}
}

func TestClearCache(t *testing.T) {
	m := New(DefaultConfig())
	original := bytes.Repeat([]byte("x"), 2000)
	m.Compress(original, GZIP)
	if len(m.cache) == 0 {
		t.Fatal("expected a cache entry before ClearCache")
	}
	m.ClearCache()
	if len(m.cache) != 0 {
		t.Error("expected ClearCache to empty the cache")
	}
}
