package pool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDepositFillsAndRotatesChunks(t *testing.T) {
	// S3 scenario from spec.md §8: max_entropy=100, chunk_capacity=40.
	p := New(100, 40)

	n1 := p.Deposit(make([]byte, 50))
	n2 := p.Deposit(make([]byte, 50))
	n3 := p.Deposit(make([]byte, 50))

	if n1 != 50 || n2 != 50 || n3 != 0 {
		t.Fatalf("deposit returns: %d %d %d, want 50 50 0", n1, n2, n3)
	}

	stats := p.Stats()
	if stats.TotalBytes != 100 {
		t.Fatalf("total_bytes = %d, want 100", stats.TotalBytes)
	}
	if stats.ChunkCount != 3 {
		t.Fatalf("chunk_count = %d, want 3", stats.ChunkCount)
	}

	sizes := []int{}
	for _, c := range p.Chunks() {
		sizes = append(sizes, c.Len)
	}
	if len(sizes) != 3 || sizes[0] != 40 || sizes[1] != 40 || sizes[2] != 20 {
		t.Fatalf("chunk sizes = %v, want [40 40 20]", sizes)
	}
}

func TestDepositIntoFullPoolReturnsZero(t *testing.T) {
	p := New(10, 10)
	if n := p.Deposit(make([]byte, 10)); n != 10 {
		t.Fatalf("first deposit = %d, want 10", n)
	}
	before := p.Stats().TotalBytes
	if n := p.Deposit(make([]byte, 5)); n != 0 {
		t.Fatalf("deposit into full pool = %d, want 0", n)
	}
	if p.Stats().TotalBytes != before {
		t.Fatalf("total_bytes changed on deposit into full pool")
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.bin")

	p := New(10000, 4096)
	p.Deposit(make([]byte, 8))
	p.Deposit(make([]byte, 4096))
	p.Deposit(make([]byte, 4096))

	ctx := context.Background()
	if _, err := p.Persist(ctx, path); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat persisted file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("persisted file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadPool(path)
	if err != nil {
		t.Fatalf("LoadPool: %v", err)
	}

	origStats := p.Stats()
	loadedStats := loaded.Stats()
	if loadedStats.TotalBytes != origStats.TotalBytes || loadedStats.ChunkCount != origStats.ChunkCount {
		t.Fatalf("loaded stats %+v != original stats %+v", loadedStats, origStats)
	}

	origChunks := p.Chunks()
	loadedChunks := loaded.Chunks()
	if len(origChunks) != len(loadedChunks) {
		t.Fatalf("chunk count mismatch: %d vs %d", len(origChunks), len(loadedChunks))
	}
	for i := range origChunks {
		if origChunks[i].ID != loadedChunks[i].ID || origChunks[i].Len != loadedChunks[i].Len {
			t.Fatalf("chunk %d mismatch: %+v vs %+v", i, origChunks[i], loadedChunks[i])
		}
	}
}

func TestPersistLoadPersistLoadByteIdentical(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "b.bin")

	p := New(1000, 256)
	p.Deposit(make([]byte, 300))

	ctx := context.Background()
	if _, err := p.Persist(ctx, pathA); err != nil {
		t.Fatalf("first persist: %v", err)
	}

	loaded, err := LoadPool(pathA)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := loaded.Persist(ctx, pathB); err != nil {
		t.Fatalf("second persist: %v", err)
	}

	dataA, _ := os.ReadFile(pathA)
	dataB, _ := os.ReadFile(pathB)
	if string(dataA) != string(dataB) {
		t.Fatalf("persist->load->persist produced different bytes")
	}
}

func TestLoadRejectsCorruptChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.bin")

	p := New(1000, 256)
	p.Deposit(make([]byte, 100))

	ctx := context.Background()
	if _, err := p.Persist(ctx, path); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Flip one bit in the middle of the body (well within the header).
	data[10] ^= 0x01
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write corrupted: %v", err)
	}

	unchanged := New(1000, 256)
	unchanged.Deposit(make([]byte, 42))
	beforeStats := unchanged.Stats()

	err = unchanged.Load(path)
	if err == nil {
		t.Fatalf("expected Load to reject corrupted file")
	}

	afterStats := unchanged.Stats()
	if afterStats != beforeStats {
		t.Fatalf("pool mutated despite failed load: before=%+v after=%+v", beforeStats, afterStats)
	}
}

func TestPersistFailureLeavesTargetUntouched(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permission bits don't block root; skipping")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "pool.bin")

	p := New(1000, 256)
	p.Deposit(make([]byte, 64))
	ctx := context.Background()
	if _, err := p.Persist(ctx, path); err != nil {
		t.Fatalf("initial persist: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// Force the next persist to the same path to fail by making the
	// directory unwritable, so CreateTemp can't even create its sibling
	// temp file — nothing should touch the already-committed target.
	if err := os.Chmod(dir, 0500); err != nil {
		t.Fatalf("chmod dir: %v", err)
	}
	defer os.Chmod(dir, 0700)

	p.Deposit(make([]byte, 1)) // mutate in-memory state so a snapshot would differ
	if _, err := p.Persist(ctx, path); err == nil {
		t.Fatalf("expected persist to an unwritable directory to fail")
	}

	os.Chmod(dir, 0700)
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after failed persist: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("original file changed after failed persist")
	}
}
