// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package compress is the adaptive compression boundary: it picks an
// algorithm from the payload's size and a sampled Shannon entropy estimate,
// caches results by content hash, and runs large payloads on the
// scheduler's worker goroutine while the caller waits for the result.
package compress

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"

	"github.com/nanokit/agentmesh/internal/log"
	"github.com/nanokit/agentmesh/scheduler"
)

// Algorithm is one of the compression codecs Middleware can select.
type Algorithm string

const (
	None Algorithm = "none"
	GZIP Algorithm = "gzip"
	ZLIB Algorithm = "zlib"
	BZ2  Algorithm = "bz2"
	LZMA Algorithm = "lzma"
)

const (
	defaultMinThreshold = 1024              // 1 KiB
	defaultMaxThreshold = 10 * 1024 * 1024   // 10 MiB
	asyncThreshold      = 50 * 1024          // off-load to the scheduler goroutine above this
	entropySampleSize   = 1024               // sample the first 1 KiB
	entropyHighCutoff   = 7.5
	entropyLowCutoff    = 4.0
	lzmaSizeCutoff      = 100 * 1024 // >= this, low-entropy data prefers LZMA over BZ2
	defaultCacheCap     = 1000
)

// Config tunes Middleware's thresholds and cache.
type Config struct {
	MinSizeThreshold int
	MaxSizeThreshold int
	CacheCapacity    int
	EnableCache      bool
	EnableAsync      bool
}

// DefaultConfig matches the source's CompressionConfig defaults.
func DefaultConfig() Config {
	return Config{
		MinSizeThreshold: defaultMinThreshold,
		MaxSizeThreshold: defaultMaxThreshold,
		CacheCapacity:    defaultCacheCap,
		EnableCache:      true,
		EnableAsync:      true,
	}
}

// Result is the outcome of a Compress call.
type Result struct {
	Data            []byte
	Algorithm       Algorithm
	OriginalSize    int
	CompressedSize  int
	CompressionRatio float64
	Cached          bool
}

// Stats accumulates Middleware's lifetime counters.
type Stats struct {
	TotalCompressed   int64
	TotalDecompressed int64
	BytesSaved        int64
	AlgorithmUsage    map[Algorithm]int64
	CacheHits         int64
	CacheMisses       int64
}

type cacheEntry struct {
	data []byte
	alg  Algorithm
}

// Middleware selects, applies, caches, and reverses compression for
// outbound/inbound message payloads.
type Middleware struct {
	cfg Config

	mu       sync.Mutex
	cache    map[string]cacheEntry
	cacheLRU []string // oldest first, for capacity eviction
	stats    Stats
}

// New returns a Middleware using cfg. A zero Config is replaced by
// DefaultConfig.
func New(cfg Config) *Middleware {
	if cfg.MinSizeThreshold == 0 && cfg.MaxSizeThreshold == 0 {
		cfg = DefaultConfig()
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = defaultCacheCap
	}
	return &Middleware{
		cfg:   cfg,
		cache: make(map[string]cacheEntry),
		stats: Stats{AlgorithmUsage: make(map[Algorithm]int64)},
	}
}

// Compress selects an algorithm (unless forced is non-empty) and returns the
// compressed bytes. Payloads outside [MinSizeThreshold, MaxSizeThreshold]
// are passed through uncompressed, matching the source's early-out.
func (m *Middleware) Compress(data []byte, forced Algorithm) (Result, error) {
	original := len(data)

	if original < m.cfg.MinSizeThreshold || original > m.cfg.MaxSizeThreshold {
		return Result{Data: data, Algorithm: None, OriginalSize: original, CompressedSize: original, CompressionRatio: 1.0}, nil
	}

	alg := forced
	if alg == "" {
		alg = selectAlgorithm(data)
	}

	cacheKey := cacheKeyFor(data, alg)
	if m.cfg.EnableCache {
		if entry, ok := m.cacheGet(cacheKey); ok {
			m.addStat(func(s *Stats) { s.CacheHits++ })
			return Result{
				Data:             entry.data,
				Algorithm:        entry.alg,
				OriginalSize:     original,
				CompressedSize:   len(entry.data),
				CompressionRatio: ratio(original, len(entry.data)),
				Cached:           true,
			}, nil
		}
		m.addStat(func(s *Stats) { s.CacheMisses++ })
	}

	compressed, err := m.runCompress(data, alg)
	if err != nil {
		log.Errorf("compress: compression failed, passing through: %v", err)
		return Result{Data: data, Algorithm: None, OriginalSize: original, CompressedSize: original, CompressionRatio: 1.0}, nil
	}

	compressedSize := len(compressed)
	m.addStat(func(s *Stats) {
		s.TotalCompressed++
		s.BytesSaved += int64(original - compressedSize)
		s.AlgorithmUsage[alg]++
	})

	r := ratio(original, compressedSize)
	if m.cfg.EnableCache && r > 1.2 {
		m.cachePut(cacheKey, cacheEntry{data: compressed, alg: alg})
	}

	log.Printf("compress: %d bytes -> %d bytes (%.2fx) using %s", original, compressedSize, r, alg)
	return Result{Data: compressed, Algorithm: alg, OriginalSize: original, CompressedSize: compressedSize, CompressionRatio: r}, nil
}

// Decompress reverses Compress for the given algorithm.
func (m *Middleware) Decompress(data []byte, alg Algorithm) ([]byte, error) {
	if alg == None {
		return data, nil
	}
	out, err := m.runDecompress(data, alg)
	if err != nil {
		return nil, fmt.Errorf("compress: decompression failed with %s: %w", alg, err)
	}
	m.addStat(func(s *Stats) { s.TotalDecompressed++ })
	return out, nil
}

func (m *Middleware) runCompress(data []byte, alg Algorithm) ([]byte, error) {
	if m.cfg.EnableAsync && len(data) > asyncThreshold {
		return m.offload(func() ([]byte, error) { return compressBytes(data, alg) })
	}
	return compressBytes(data, alg)
}

func (m *Middleware) runDecompress(data []byte, alg Algorithm) ([]byte, error) {
	if m.cfg.EnableAsync && len(data) > asyncThreshold {
		return m.offload(func() ([]byte, error) { return decompressBytes(data, alg) })
	}
	return decompressBytes(data, alg)
}

// offload runs fn on the scheduler's single worker goroutine and blocks until it
// completes, keeping CPU-bound compression work off whatever goroutine
// called Compress/Decompress while presenting the same synchronous API.
func (m *Middleware) offload(fn func() ([]byte, error)) ([]byte, error) {
	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)
	scheduler.Run(func() {
		data, err := fn()
		done <- outcome{data, err}
	})
	out := <-done
	return out.data, out.err
}

func compressBytes(data []byte, alg Algorithm) ([]byte, error) {
	var buf bytes.Buffer
	switch alg {
	case None:
		return data, nil
	case GZIP:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case ZLIB:
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case BZ2:
		w, err := bzip2.NewWriter(&buf, nil)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case LZMA:
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %q", alg)
	}
	return buf.Bytes(), nil
}

func decompressBytes(data []byte, alg Algorithm) ([]byte, error) {
	switch alg {
	case None:
		return data, nil
	case GZIP:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case ZLIB:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case BZ2:
		r, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case LZMA:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %q", alg)
	}
}

// selectAlgorithm picks an algorithm from size and a sampled entropy
// estimate of the first entropySampleSize bytes.
func selectAlgorithm(data []byte) Algorithm {
	sample := data
	if len(sample) > entropySampleSize {
		sample = sample[:entropySampleSize]
	}
	entropy := shannonEntropy(sample)

	switch {
	case entropy > entropyHighCutoff:
		return GZIP
	case entropy < entropyLowCutoff:
		if len(data) >= lzmaSizeCutoff {
			return LZMA
		}
		return BZ2
	default:
		return ZLIB
	}
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	entropy := 0.0
	n := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func ratio(original, compressed int) float64 {
	if compressed <= 0 {
		return 1.0
	}
	return float64(original) / float64(compressed)
}

func cacheKeyFor(data []byte, alg Algorithm) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + ":" + string(alg)
}

func (m *Middleware) cacheGet(key string) (cacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[key]
	return entry, ok
}

func (m *Middleware) cachePut(key string, entry cacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cache[key]; !exists {
		if len(m.cache) >= m.cfg.CacheCapacity && len(m.cacheLRU) > 0 {
			oldest := m.cacheLRU[0]
			m.cacheLRU = m.cacheLRU[1:]
			delete(m.cache, oldest)
		}
		m.cacheLRU = append(m.cacheLRU, key)
	}
	m.cache[key] = entry
}

func (m *Middleware) addStat(fn func(*Stats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stats)
}

// Stats returns a snapshot of compression/decompression counters.
func (m *Middleware) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := make(map[Algorithm]int64, len(m.stats.AlgorithmUsage))
	for k, v := range m.stats.AlgorithmUsage {
		usage[k] = v
	}
	s := m.stats
	s.AlgorithmUsage = usage
	return s
}

// ClearCache discards every cached compression result.
func (m *Middleware) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.cache)
	m.cache = make(map[string]cacheEntry)
	m.cacheLRU = nil
	log.Printf("compress: cleared cache (%d entries)", n)
}
