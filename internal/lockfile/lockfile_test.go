package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "egd.pid")

	lock, err := Acquire(path, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file contents = %q, want current pid", data)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after Release")
	}
}

func TestAcquireRejectsLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "egd.pid")

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		t.Fatalf("seeding lock file: %v", err)
	}

	_, err := Acquire(path, false)
	if err != ErrAlreadyRunning {
		t.Fatalf("Acquire = %v, want ErrAlreadyRunning", err)
	}
}

func TestAcquireReclaimsStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "egd.pid")

	// PID 999999 is assumed not to exist on the test host.
	if err := os.WriteFile(path, []byte("999999"), 0600); err != nil {
		t.Fatalf("seeding stale lock file: %v", err)
	}

	lock, err := Acquire(path, false)
	if err != nil {
		t.Fatalf("Acquire over stale holder: %v", err)
	}
	defer lock.Release()

	data, _ := os.ReadFile(path)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock file not rewritten with current pid: %q", data)
	}
}

func TestForceBypassesLiveHolderCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "egd.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		t.Fatalf("seeding lock file: %v", err)
	}

	lock, err := Acquire(path, true)
	if err != nil {
		t.Fatalf("Acquire with force=true: %v", err)
	}
	defer lock.Release()
}
