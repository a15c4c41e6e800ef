// Package orchestrator drives one FileSieve run end to end: scan,
// cache open, exact stage, media stage, cache commit/prune, and result
// assembly with stats and per-stage timings.
//
// The run-identifier generation (128-bit random, stamped on every
// cache row touched) and the stage sequencing follow spec.md §4.4;
// timing collection follows the teacher's plain-log style rather than
// a metrics library, since no example repo in the pack wires a metrics
// exporter for a single-shot CLI run.
package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"filesieve/internal/cache"
	"filesieve/internal/config"
	"filesieve/internal/exact"
	"filesieve/internal/inventory"
	"filesieve/internal/media"
	"filesieve/internal/mediatool"
)

// Timings records wall-clock duration per stage.
type Timings struct {
	Scan          time.Duration
	CacheOpen     time.Duration
	Exact         time.Duration
	Media         time.Duration
	CacheFinalize time.Duration
}

// SizeGroup is the legacy per-size-group view of files that survived a
// run without being moved.
type SizeGroup struct {
	Size  int64
	Paths []string
}

// Result is the structured output of one run.
type Result struct {
	RunID           string
	FilesScanned    int
	CacheHits       int
	CacheMisses     int
	CacheHitRatio   float64
	BytesReadExact  int64
	BytesReadVerify int64
	Timings         Timings

	Moves          []exact.Move
	MediaClusters  []media.Cluster
	RemainingBySize []SizeGroup
}

// NewRunID generates a fresh 128-bit run identifier, hex-encoded.
func NewRunID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("orchestrator: generate run id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Run executes one full FileSieve pass for cfg.
func Run(cfg config.Config) (Result, error) {
	runID, err := NewRunID()
	if err != nil {
		return Result{}, err
	}
	result := Result{RunID: runID}

	scanStart := time.Now()
	records, scanErrs := inventory.Scan(cfg.BaseDirs, cfg.DupDir)
	result.Timings.Scan = time.Since(scanStart)
	for _, e := range scanErrs {
		log.Printf("[scan] %v", e)
	}
	result.FilesScanned = len(records)

	var sigCache *cache.Cache
	cacheOpenStart := time.Now()
	if !cfg.NoCache {
		sigCache, err = cache.Open(cfg.CacheDB)
		if err != nil {
			log.Printf("[cache] failed to open cache, continuing without it: %v", err)
			sigCache = nil
		}
	}
	result.Timings.CacheOpen = time.Since(cacheOpenStart)

	exactFiles := make([]exact.FileMeta, len(records))
	for i, r := range records {
		exactFiles[i] = r.Identity
	}

	exactStart := time.Now()
	exactResult, err := exact.Run(exactFiles, exact.Options{
		DupDir:      cfg.DupDir,
		HashWorkers: cfg.HashWorkers,
		Cache:       sigCache,
		RunID:       runID,
	})
	result.Timings.Exact = time.Since(exactStart)
	if err != nil {
		closeCache(sigCache)
		return Result{}, fmt.Errorf("orchestrator: exact stage: %w", err)
	}
	result.Moves = exactResult.Moves
	result.CacheHits += exactResult.CacheHits
	result.CacheMisses += exactResult.CacheMisses
	result.BytesReadExact += exactResult.BytesReadExact
	result.BytesReadVerify += exactResult.BytesReadVerify

	if cfg.Mode == config.ModeMedia && cfg.MediaEnabled {
		mediaFiles := make([]media.FileMeta, 0, len(records))
		for _, r := range records {
			if r.Kind == inventory.KindImage || r.Kind == inventory.KindVideo {
				mediaFiles = append(mediaFiles, media.FileMeta{Identity: r.Identity, Kind: r.Kind})
			}
		}

		tools := mediatool.Resolve(cfg.FFmpegPath, cfg.FFprobePath)
		mediaStart := time.Now()
		mediaResult, err := media.Run(mediaFiles, exactResult.MovedPaths, media.Options{
			MediaWorkers: cfg.MediaWorkers,
			Thresholds: media.Thresholds{
				ImageHamming:       cfg.Thresholds.ImageHamming,
				VideoHamming:       cfg.Thresholds.VideoHamming,
				VideoFrameHamming:  cfg.Thresholds.VideoFrameHamming,
				DurationBucketSecs: cfg.Thresholds.DurationBucketSecs,
			},
			Tools: tools,
			Cache: sigCache,
			RunID: runID,
		})
		result.Timings.Media = time.Since(mediaStart)
		if err != nil {
			closeCache(sigCache)
			return Result{}, fmt.Errorf("orchestrator: media stage: %w", err)
		}
		if !mediaResult.ToolsAvailable {
			log.Printf("[media] ffmpeg/ffprobe unavailable, skipping perceptual stage")
		}
		result.MediaClusters = mediaResult.Clusters
		result.CacheHits += mediaResult.CacheHits
		result.CacheMisses += mediaResult.CacheMisses
	}

	finalizeStart := time.Now()
	if sigCache != nil {
		if err := sigCache.Commit(); err != nil {
			log.Printf("[cache] commit failed: %v", err)
		}
		if err := sigCache.PruneStale(runID); err != nil {
			log.Printf("[cache] prune failed: %v", err)
		}
	}
	closeCache(sigCache)
	result.Timings.CacheFinalize = time.Since(finalizeStart)

	result.RemainingBySize = remainingBySize(records, exactResult.MovedPaths)

	total := result.CacheHits + result.CacheMisses
	if total > 0 {
		result.CacheHitRatio = float64(result.CacheHits) / float64(total)
	}

	return result, nil
}

func closeCache(c *cache.Cache) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Printf("[cache] close failed: %v", err)
	}
}

func remainingBySize(records []inventory.FileMetadata, moved map[string]bool) []SizeGroup {
	bySize := map[int64][]string{}
	for _, r := range records {
		if moved[r.Path] {
			continue
		}
		bySize[r.Size] = append(bySize[r.Size], r.Path)
	}

	groups := make([]SizeGroup, 0, len(bySize))
	for size, paths := range bySize {
		groups = append(groups, SizeGroup{Size: size, Paths: paths})
	}
	return groups
}
