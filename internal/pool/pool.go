package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nishisan-dev/egd/internal/egderr"
)

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	TotalBytes    int64
	MaxTotalBytes int64
	ChunkCount    int
	IsFull        bool
	LastPersist   time.Time
}

// Mirror is an optional secondary persistence sink consulted after every
// successful local atomic persist. Implementations log their own
// failures; Persist ignores the returned error, so a mirror failure never
// fails the primary persist.
type Mirror interface {
	Mirror(ctx context.Context, image []byte) error
}

// Pool is the bounded, ordered, atomically-persistable entropy pool
// (spec.md §3, §4.4). The zero value is not usable; use New or LoadPool.
type Pool struct {
	mu            sync.RWMutex
	chunks        []*Chunk
	totalBytes    int64
	maxTotalBytes int64
	chunkCapacity int
	nextID        int64
	createdAt     time.Time
	lastPersist   time.Time

	mirror Mirror
}

// New creates an empty pool with the given bounds.
func New(maxTotalBytes int64, chunkCapacity int) *Pool {
	return &Pool{
		maxTotalBytes: maxTotalBytes,
		chunkCapacity: chunkCapacity,
		createdAt:     time.Now(),
	}
}

// SetMirror installs an optional secondary persistence sink.
func (p *Pool) SetMirror(m Mirror) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror = m
}

// Deposit fills the current tail chunk, allocating a fresh chunk when it
// becomes full, and stops at max_total_bytes. Returns the number of bytes
// actually added; excess input beyond the cap is silently dropped, per
// spec.md §4.4.
func (p *Pool) Deposit(data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for len(data) > 0 {
		if p.totalBytes >= p.maxTotalBytes {
			break
		}

		if len(p.chunks) == 0 || p.chunks[len(p.chunks)-1].IsFull() {
			p.chunks = append(p.chunks, newChunk(p.nextID, p.chunkCapacity))
			p.nextID++
		}

		tail := p.chunks[len(p.chunks)-1]

		// Never write past the pool-wide cap, even into room the chunk
		// itself still has.
		room := p.maxTotalBytes - p.totalBytes
		offer := data
		if int64(len(offer)) > room {
			offer = offer[:room]
		}

		n := tail.Append(offer)
		if n == 0 {
			// Tail is full but the loop above should have rotated it;
			// defensive break to avoid spinning.
			break
		}

		p.totalBytes += int64(n)
		added += n
		data = data[n:]
	}

	return added
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		TotalBytes:    p.totalBytes,
		MaxTotalBytes: p.maxTotalBytes,
		ChunkCount:    len(p.chunks),
		IsFull:        p.totalBytes >= p.maxTotalBytes,
		LastPersist:   p.lastPersist,
	}
}

// snapshot takes a consistent, prefix-ordered copy of every chunk's bytes
// under the lock, for use by Persist without holding the lock during I/O.
// The tail chunk may still be Deposit's live append target after the lock
// is released, so its bytes must be copied here, not just its pointer.
func (p *Pool) snapshot() ([]chunkSnapshot, int64, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]chunkSnapshot, len(p.chunks))
	for i, c := range p.chunks {
		out[i] = chunkSnapshot{id: c.id, bytes: c.Snapshot()}
	}
	return out, p.maxTotalBytes, p.chunkCapacity
}

// Persist atomically serializes the pool to path: writes a temp sibling
// file with 0600 permissions, fsyncs, then renames over the target. On any
// error the temp file is removed and the target is left untouched.
func (p *Pool) Persist(ctx context.Context, path string) (int64, error) {
	chunks, maxTotal, chunkCap := p.snapshot()

	p.mu.RLock()
	createdAt := p.createdAt
	p.mu.RUnlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".egd-pool-*.tmp")
	if err != nil {
		return 0, egderr.Temp("pool", "PERSIST_TEMPFILE", "creating temp file", err)
	}
	tmpPath := tmp.Name()

	cleanupOnErr := func(err error) (int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	if err := tmp.Chmod(0600); err != nil {
		return cleanupOnErr(egderr.Temp("pool", "PERSIST_CHMOD", "setting temp file permissions", err))
	}

	if err := encodeImage(tmp, maxTotal, chunkCap, chunks, createdAt); err != nil {
		return cleanupOnErr(egderr.Temp("pool", "PERSIST_ENCODE", "encoding pool image", err))
	}

	size, err := tmp.Seek(0, os.SEEK_CUR)
	if err != nil {
		return cleanupOnErr(egderr.Temp("pool", "PERSIST_SEEK", "measuring written bytes", err))
	}

	if err := tmp.Sync(); err != nil {
		return cleanupOnErr(egderr.Temp("pool", "PERSIST_FSYNC", "fsyncing temp file", err))
	}
	if err := tmp.Close(); err != nil {
		return cleanupOnErr(egderr.Temp("pool", "PERSIST_CLOSE", "closing temp file", err))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, egderr.Temp("pool", "PERSIST_RENAME", "renaming temp file over target", err)
	}

	p.mu.Lock()
	p.lastPersist = time.Now()
	p.mu.Unlock()

	if mirror := p.currentMirror(); mirror != nil {
		// Best-effort: mirror failures are the Mirror implementation's own
		// responsibility to log (it holds its own logger); they never fail
		// or block the primary, already-committed persist.
		if data, readErr := os.ReadFile(path); readErr == nil {
			_ = mirror.Mirror(ctx, data)
		}
	}

	return size, nil
}

func (p *Pool) currentMirror() Mirror {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mirror
}

// Load reads and verifies a persisted pool image from path, replacing the
// pool's contents only on success. On any verification failure, the
// in-memory pool is left unchanged and a STORAGE_CORRUPTED error is
// returned.
func (p *Pool) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return egderr.Fat("pool", "PERSIST_READ", "reading pool file", err)
	}

	img, err := decodeImage(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = img.Chunks
	p.maxTotalBytes = img.Header.MaxEntropy
	p.chunkCapacity = int(img.Header.ChunkCapacity)
	p.nextID = img.NextID
	p.createdAt = img.CreatedAt

	var total int64
	for _, c := range p.chunks {
		total += int64(c.Len())
	}
	p.totalBytes = total

	return nil
}

// LoadPool is a convenience constructor that loads a fresh pool directly
// from a persisted image.
func LoadPool(path string) (*Pool, error) {
	p := &Pool{}
	if err := p.Load(path); err != nil {
		return nil, err
	}
	return p, nil
}

// Chunks returns a defensive copy of the chunk metadata (id, length,
// capacity) without exposing the underlying buffers.
func (p *Pool) Chunks() []ChunkInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ChunkInfo, len(p.chunks))
	for i, c := range p.chunks {
		out[i] = ChunkInfo{ID: c.ID(), Len: c.Len(), Capacity: c.Capacity()}
	}
	return out
}

// ChunkInfo is a read-only view of one chunk's metadata.
type ChunkInfo struct {
	ID       int64
	Len      int
	Capacity int
}

// String renders a short human-readable summary, handy for CLI output.
func (s Stats) String() string {
	return fmt.Sprintf("entropy=%d/%d chunks=%d full=%v last_persist=%s",
		s.TotalBytes, s.MaxTotalBytes, s.ChunkCount, s.IsFull, s.LastPersist.Format(time.RFC3339))
}
