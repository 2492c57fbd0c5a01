package fuse

import (
	"context"
	"sync"
	"time"

	"github.com/silofs/silofs/internal/filesystem"
)

// ReadAheadManager detects sequential read patterns on open files and
// issues a speculative ReadAt at the predicted next offset, discarding
// the result. The point is to warm the consensus cache layer before the
// kernel's own page-cache readahead asks for it, not to serve the
// result directly.
type ReadAheadManager struct {
	mu            sync.RWMutex
	activeReads   map[*filesystem.FileBuffer]*ReadPattern
	fs            *FileSystem
	config        *ReadAheadConfig
	prefetchQueue chan *PrefetchRequest
	stopCh        chan struct{}
}

// ReadAheadConfig configures read-ahead behavior.
type ReadAheadConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WindowSize      int64         `yaml:"window_size"`      // bytes to prefetch per trigger
	MinSequential   int           `yaml:"min_sequential"`   // sequential reads required to trigger
	ConcurrentReads int           `yaml:"concurrent_reads"` // max concurrent prefetch workers
	TTL             time.Duration `yaml:"ttl"`              // pattern eviction age
}

// ReadPattern tracks per-file access history for sequential detection.
type ReadPattern struct {
	fb             *filesystem.FileBuffer
	lastOffset     int64
	lastSize       int64
	sequentialHits int
	lastAccess     time.Time
	predictedNext  int64
	confidence     float64
}

// PrefetchRequest is a scheduled speculative read.
type PrefetchRequest struct {
	fb     *filesystem.FileBuffer
	offset int64
	size   int64
}

// NewReadAheadManager creates a read-ahead manager. A nil config
// enables read-ahead with defaults: a 64 KiB window, 2 sequential reads,
// 4 prefetch workers and a 5 minute pattern TTL. The filesystem's
// PrefetchDepth/PrefetchFanout settings are not consulted.
func NewReadAheadManager(fsys *FileSystem, config *ReadAheadConfig) *ReadAheadManager {
	if config == nil {
		config = &ReadAheadConfig{
			Enabled:         true,
			WindowSize:      64 * 1024,
			MinSequential:   2,
			ConcurrentReads: 4,
			TTL:             5 * time.Minute,
		}
	}

	ram := &ReadAheadManager{
		activeReads:   make(map[*filesystem.FileBuffer]*ReadPattern),
		fs:            fsys,
		config:        config,
		prefetchQueue: make(chan *PrefetchRequest, 100),
		stopCh:        make(chan struct{}),
	}

	if !config.Enabled {
		return ram
	}

	for i := 0; i < config.ConcurrentReads; i++ {
		go ram.prefetchWorker()
	}
	go ram.cleanupWorker()

	return ram
}

// OnRead records a read and, once a strong enough sequential pattern is
// seen, schedules a speculative read at the predicted next offset.
func (ram *ReadAheadManager) OnRead(fb *filesystem.FileBuffer, offset, size int64) {
	if !ram.config.Enabled {
		return
	}

	ram.mu.Lock()
	defer ram.mu.Unlock()

	pattern, exists := ram.activeReads[fb]
	if !exists {
		pattern = &ReadPattern{fb: fb, lastAccess: time.Now()}
		ram.activeReads[fb] = pattern
	}

	if offset == pattern.lastOffset+pattern.lastSize {
		pattern.sequentialHits++
		pattern.confidence = float64(pattern.sequentialHits) / 10.0
		if pattern.confidence > 1.0 {
			pattern.confidence = 1.0
		}
	} else {
		pattern.sequentialHits = 0
		pattern.confidence = 0.1
	}

	pattern.lastOffset = offset
	pattern.lastSize = size
	pattern.lastAccess = time.Now()
	pattern.predictedNext = offset + size

	if pattern.sequentialHits >= ram.config.MinSequential && pattern.confidence > 0.5 {
		ram.schedulePrefetch(fb, pattern.predictedNext, ram.config.WindowSize)
	}
}

func (ram *ReadAheadManager) schedulePrefetch(fb *filesystem.FileBuffer, offset, size int64) {
	select {
	case ram.prefetchQueue <- &PrefetchRequest{fb: fb, offset: offset, size: size}:
	default:
		// queue full, skip this round
	}
}

func (ram *ReadAheadManager) prefetchWorker() {
	for {
		select {
		case req := <-ram.prefetchQueue:
			ram.performPrefetch(req)
		case <-ram.stopCh:
			return
		}
	}
}

// performPrefetch warms the consensus cache by reading bytes the kernel
// hasn't asked for yet; the data itself is discarded.
func (ram *ReadAheadManager) performPrefetch(req *PrefetchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	buf := make([]byte, req.size)
	_, _ = req.fb.ReadAt(ctx, buf, req.offset)
}

func (ram *ReadAheadManager) cleanupWorker() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ram.cleanup()
		case <-ram.stopCh:
			return
		}
	}
}

func (ram *ReadAheadManager) cleanup() {
	ram.mu.Lock()
	defer ram.mu.Unlock()

	now := time.Now()
	for fb, pattern := range ram.activeReads {
		if now.Sub(pattern.lastAccess) > ram.config.TTL {
			delete(ram.activeReads, fb)
		}
	}
}

// Stop halts the prefetch and cleanup workers.
func (ram *ReadAheadManager) Stop() {
	close(ram.stopCh)
}
