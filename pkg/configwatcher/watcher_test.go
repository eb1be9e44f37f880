package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"assessment_backend/internal/config"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	write := func(ttl string) {
		body := "storage:\n  local_path: " + filepath.Join(dir, "uploads") + "\ngrading:\n  lock_ttl_seconds: " + ttl + "\n"
		if err := os.WriteFile(file, []byte(body), 0644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("30")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 1)
	if err := Watch(ctx, file, func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	write("12")

	select {
	case cfg := <-reloaded:
		if cfg.Grading.LockTTLSeconds != 12 {
			t.Fatalf("lock ttl = %d, want 12", cfg.Grading.LockTTLSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
