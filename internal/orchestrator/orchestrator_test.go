package orchestrator

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"filesieve/internal/config"
)

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunMovesExactDuplicatesAndSkipsMedia(t *testing.T) {
	base := t.TempDir()
	dupDir := filepath.Join(t.TempDir(), "dups")
	cacheDB := filepath.Join(t.TempDir(), "cache.sqlite")

	content := []byte("same-content" + string(make([]byte, 2048)))
	writeFile(t, base, "a.bin", content)
	writeFile(t, base, "b.bin", content)

	cfg := config.Defaults()
	cfg.BaseDirs = []string{base}
	cfg.DupDir = dupDir
	cfg.CacheDB = cacheDB
	cfg.Mode = config.ModeExact
	cfg.MediaEnabled = false
	cfg.HashWorkers = 2
	cfg.MediaWorkers = 1

	result, err := Run(cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RunID == "" {
		t.Error("expected a non-empty run id")
	}
	if result.FilesScanned != 2 {
		t.Errorf("FilesScanned = %d, want 2", result.FilesScanned)
	}
	if len(result.Moves) != 1 {
		t.Fatalf("expected exactly 1 move, got %d: %+v", len(result.Moves), result.Moves)
	}
	if len(result.MediaClusters) != 0 {
		t.Errorf("expected no media clusters in exact-only mode, got %+v", result.MediaClusters)
	}
}

func TestRunSecondPassHasHighCacheHitRatio(t *testing.T) {
	base := t.TempDir()
	dupDir := filepath.Join(t.TempDir(), "dups")
	cacheDB := filepath.Join(t.TempDir(), "cache.sqlite")

	// Same size, different content: both land in the same size group
	// and get quick-hashed every run, but since the quick hashes differ
	// neither is ever a duplicate, so both survive in place across runs
	// unchanged. An unchanged tree's second pass should therefore be
	// almost entirely cache hits.
	writeFile(t, base, "a.bin", bytes.Repeat([]byte("L"), 64))
	writeFile(t, base, "b.bin", bytes.Repeat([]byte("R"), 64))

	cfg := config.Defaults()
	cfg.BaseDirs = []string{base}
	cfg.DupDir = dupDir
	cfg.CacheDB = cacheDB
	cfg.Mode = config.ModeExact
	cfg.MediaEnabled = false
	cfg.HashWorkers = 2
	cfg.MediaWorkers = 1

	if _, err := Run(cfg); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	result, err := Run(cfg)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.FilesScanned != 2 {
		t.Errorf("FilesScanned on second pass = %d, want 2 (nothing moved, both files survive)", result.FilesScanned)
	}
	if len(result.Moves) != 0 {
		t.Errorf("expected no moves for same-size non-duplicate files, got %+v", result.Moves)
	}
	if result.CacheHitRatio < 0.90 {
		t.Errorf("CacheHitRatio on second pass = %.2f, want >= 0.90 per the unchanged-tree invariant", result.CacheHitRatio)
	}
}

func TestRunNoCacheSkipsCacheEntirely(t *testing.T) {
	base := t.TempDir()
	dupDir := filepath.Join(t.TempDir(), "dups")
	writeFile(t, base, "a.bin", []byte("solo file"))

	cfg := config.Defaults()
	cfg.BaseDirs = []string{base}
	cfg.DupDir = dupDir
	cfg.NoCache = true
	cfg.Mode = config.ModeExact
	cfg.MediaEnabled = false
	cfg.HashWorkers = 2
	cfg.MediaWorkers = 1

	result, err := Run(cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CacheHits != 0 || result.CacheMisses != 0 {
		t.Errorf("expected no cache activity with NoCache, got hits=%d misses=%d", result.CacheHits, result.CacheMisses)
	}
}
