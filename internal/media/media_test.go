package media

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"filesieve/internal/cache"
	"filesieve/internal/inventory"
	"filesieve/internal/mediatool"
)

func TestDHashFromPixelsDetectsGradient(t *testing.T) {
	// A strictly decreasing row means every left>right bit is 1.
	pixels := make([]byte, mediatool.FramePixels)
	for row := 0; row < mediatool.FrameHeight; row++ {
		for col := 0; col < mediatool.FrameWidth; col++ {
			pixels[row*mediatool.FrameWidth+col] = byte(255 - col*20)
		}
	}
	hash := DHashFromPixels(pixels, mediatool.FrameWidth, mediatool.FrameHeight)
	want := uint64(0)
	for row := 0; row < mediatool.FrameHeight; row++ {
		for col := 0; col < mediatool.FrameWidth-1; col++ {
			want = (want << 1) | 1
		}
	}
	if hash != want {
		t.Errorf("DHashFromPixels = %064b, want %064b", hash, want)
	}
}

func TestHammingDistance(t *testing.T) {
	if d := HammingDistance(0b1010, 0b1010); d != 0 {
		t.Errorf("identical hashes: got distance %d, want 0", d)
	}
	if d := HammingDistance(0b1111, 0b0000); d != 4 {
		t.Errorf("fully different hashes: got distance %d, want 4", d)
	}
}

func seedMediaCache(t *testing.T, c *cache.Cache, id inventory.Identity, sig Signature, meta ProbeMeta, runID string) {
	t.Helper()
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		t.Fatal(err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	sigStr, metaStr := string(sigJSON), string(metaJSON)
	if err := c.Upsert(id, cache.Record{MediaSig: &sigStr, MediaMeta: &metaStr}, runID); err != nil {
		t.Fatal(err)
	}
}

func TestRunClustersSimilarImagesFromCache(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sig.db")
	c, err := cache.Open(dbPath)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer c.Close()

	idA := inventory.Identity{Path: "/photos/a.jpg", Size: 10, MtimeNs: 1, Dev: 1, Ino: 1}
	idB := inventory.Identity{Path: "/photos/b.jpg", Size: 10, MtimeNs: 2, Dev: 1, Ino: 2}
	idC := inventory.Identity{Path: "/photos/c.jpg", Size: 10, MtimeNs: 3, Dev: 1, Ino: 3}

	meta := ProbeMeta{Width: 800, Height: 600}
	// a and b are near-identical (distance 1); c is far away (distance ~32).
	seedMediaCache(t, c, idA, Signature{Kind: KindImage, Hash: 0x0000000000000000}, meta, "run-1")
	seedMediaCache(t, c, idB, Signature{Kind: KindImage, Hash: 0x0000000000000001}, meta, "run-1")
	seedMediaCache(t, c, idC, Signature{Kind: KindImage, Hash: 0xFFFFFFFF00000000}, meta, "run-1")

	files := []FileMeta{
		{Identity: idA, Kind: inventory.KindImage},
		{Identity: idB, Kind: inventory.KindImage},
		{Identity: idC, Kind: inventory.KindImage},
	}

	opts := Options{
		MediaWorkers: 2,
		Thresholds:   Thresholds{ImageHamming: 8, VideoHamming: 32, VideoFrameHamming: 12, DurationBucketSecs: 2},
		Tools:        mediatool.Tools{FFmpeg: "/usr/bin/true", FFprobe: "/usr/bin/true"},
		Cache:        c,
		RunID:        "run-1",
	}

	result, err := Run(files, map[string]bool{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.ToolsAvailable {
		t.Fatal("expected tools available")
	}
	if result.CacheHits != 3 {
		t.Errorf("CacheHits = %d, want 3", result.CacheHits)
	}
	if len(result.Clusters) != 1 {
		t.Fatalf("expected exactly 1 cluster, got %d: %+v", len(result.Clusters), result.Clusters)
	}
	cluster := result.Clusters[0]
	if len(cluster.Paths) != 2 || cluster.Paths[0] != idA.Path || cluster.Paths[1] != idB.Path {
		t.Errorf("expected cluster {a,b}, got %v", cluster.Paths)
	}
}

func TestRunSkipsMovedPaths(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sig.db")
	c, err := cache.Open(dbPath)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer c.Close()

	id := inventory.Identity{Path: "/photos/a.jpg", Size: 10, MtimeNs: 1, Dev: 1, Ino: 1}
	files := []FileMeta{{Identity: id, Kind: inventory.KindImage}}

	opts := Options{
		MediaWorkers: 2,
		Tools:        mediatool.Tools{FFmpeg: "/usr/bin/true", FFprobe: "/usr/bin/true"},
		Cache:        c,
		RunID:        "run-1",
	}
	result, err := Run(files, map[string]bool{id.Path: true}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Clusters) != 0 {
		t.Errorf("expected no clusters for an already-moved file, got %+v", result.Clusters)
	}
}

func TestRunUnavailableToolsSkipsPipeline(t *testing.T) {
	files := []FileMeta{{Identity: inventory.Identity{Path: "/photos/a.jpg"}, Kind: inventory.KindImage}}
	result, err := Run(files, map[string]bool{}, Options{Tools: mediatool.Tools{}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ToolsAvailable {
		t.Error("expected ToolsAvailable = false when no binaries resolve")
	}
}

// runImagePair seeds the cache with two images sharing a blocking key
// (same resolution, same top-16 hash bits) and returns whether Run
// clustered them together.
func runImagePair(t *testing.T, hashA, hashB uint64, threshold int) bool {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sig.db")
	c, err := cache.Open(dbPath)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer c.Close()

	idA := inventory.Identity{Path: "/photos/a.jpg", Size: 10, MtimeNs: 1, Dev: 1, Ino: 1}
	idB := inventory.Identity{Path: "/photos/b.jpg", Size: 10, MtimeNs: 2, Dev: 1, Ino: 2}
	meta := ProbeMeta{Width: 640, Height: 480}

	seedMediaCache(t, c, idA, Signature{Kind: KindImage, Hash: hashA}, meta, "run-1")
	seedMediaCache(t, c, idB, Signature{Kind: KindImage, Hash: hashB}, meta, "run-1")

	files := []FileMeta{
		{Identity: idA, Kind: inventory.KindImage},
		{Identity: idB, Kind: inventory.KindImage},
	}
	opts := Options{
		MediaWorkers: 2,
		Thresholds:   Thresholds{ImageHamming: threshold, VideoHamming: 32, VideoFrameHamming: 12, DurationBucketSecs: 2},
		Tools:        mediatool.Tools{FFmpeg: "/usr/bin/true", FFprobe: "/usr/bin/true"},
		Cache:        c,
		RunID:        "run-1",
	}
	result, err := Run(files, map[string]bool{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return len(result.Clusters) == 1
}

// TestImageSimilarityHammingBoundary covers concrete scenario 4: a dHash
// pair at exactly the threshold distance clusters, one bit further does
// not.
func TestImageSimilarityHammingBoundary(t *testing.T) {
	const threshold = 8
	atThreshold := uint64(1)<<8 - 1 // 8 bits set: distance 8 from 0
	if !runImagePair(t, 0, atThreshold, threshold) {
		t.Error("expected images at exactly the Hamming threshold (8) to cluster")
	}

	overThreshold := uint64(1)<<9 - 1 // 9 bits set: distance 9 from 0
	if runImagePair(t, 0, overThreshold, threshold) {
		t.Error("expected images one bit past the Hamming threshold (9 > 8) not to cluster")
	}
}

// runVideoPair seeds two four-frame video signatures sharing a
// blocking key and returns whether Run clustered them together.
func runVideoPair(t *testing.T, hashesA, hashesB []uint64, videoThreshold, frameThreshold int) bool {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sig.db")
	c, err := cache.Open(dbPath)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer c.Close()

	idA := inventory.Identity{Path: "/videos/a.mp4", Size: 20, MtimeNs: 1, Dev: 1, Ino: 1}
	idB := inventory.Identity{Path: "/videos/b.mp4", Size: 20, MtimeNs: 2, Dev: 1, Ino: 2}
	meta := ProbeMeta{Width: 1280, Height: 720, Duration: 10}

	seedMediaCache(t, c, idA, Signature{Kind: KindVideo, Hashes: hashesA}, meta, "run-1")
	seedMediaCache(t, c, idB, Signature{Kind: KindVideo, Hashes: hashesB}, meta, "run-1")

	files := []FileMeta{
		{Identity: idA, Kind: inventory.KindVideo},
		{Identity: idB, Kind: inventory.KindVideo},
	}
	opts := Options{
		MediaWorkers: 2,
		Thresholds:   Thresholds{ImageHamming: 8, VideoHamming: videoThreshold, VideoFrameHamming: frameThreshold, DurationBucketSecs: 2},
		Tools:        mediatool.Tools{FFmpeg: "/usr/bin/true", FFprobe: "/usr/bin/true"},
		Cache:        c,
		RunID:        "run-1",
	}
	result, err := Run(files, map[string]bool{}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return len(result.Clusters) == 1
}

// TestVideoSimilarityThresholds covers concrete scenario 5: per-frame
// distance 8 across all four frames sums to exactly the video
// threshold and clusters; raising one frame's distance to 9 pushes the
// sum past the threshold even though every individual frame is still
// within the per-frame threshold.
func TestVideoSimilarityThresholds(t *testing.T) {
	left := []uint64{0, 0, 0, 0}
	right := []uint64{255, 255, 255, 255} // 8 bits set each: per-frame distance 8, sum 32
	if !runVideoPair(t, left, right, 32, 12) {
		t.Error("expected videos with sum-32/max-8 frame distances to cluster at thresholds 32/12")
	}

	rightOverSum := []uint64{511, 255, 255, 255} // first frame distance 9: sum 33
	if runVideoPair(t, left, rightOverSum, 32, 12) {
		t.Error("expected videos with sum 33 (> 32) not to cluster even though every frame distance is <= 12")
	}
}
