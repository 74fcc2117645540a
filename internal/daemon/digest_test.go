package daemon

import (
	"testing"

	"github.com/nishisan-dev/egd/internal/pool"
	"github.com/nishisan-dev/egd/internal/source"
)

func TestNewDigestSchedulerRejectsInvalidCronExpression(t *testing.T) {
	p := pool.New(1<<20, 4096)
	_, err := NewDigestScheduler("not a cron expression", p, []*source.Source{}, nil, discardLogger())
	if err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestNewDigestSchedulerAcceptsValidCronExpression(t *testing.T) {
	p := pool.New(1<<20, 4096)
	d, err := NewDigestScheduler("@hourly", p, []*source.Source{}, nil, discardLogger())
	if err != nil {
		t.Fatalf("NewDigestScheduler: %v", err)
	}
	d.Start()
	d.Stop()
}
