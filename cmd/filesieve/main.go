// filesieve: staged duplicate detection and perceptual similarity
// reporting for large local media trees.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"filesieve/internal/config"
	"filesieve/internal/orchestrator"
	"filesieve/internal/report"
)

func main() {
	var (
		dupDir        string
		configPath    string
		mode          string
		cachePath     string
		noCache       bool
		hashWorkers   int
		mediaWorkers  int
		ffmpegPath    string
		ffprobePath   string
		reportSimilar string
	)

	rootCmd := &cobra.Command{
		Use:   "filesieve [base directories...]",
		Short: "Find and relocate duplicate files, report perceptually similar media",
		Long: `filesieve identifies byte-identical duplicate files beneath one or
more directory trees and moves all but one representative of each
duplicate group into a mirrored destination tree. In media mode it
additionally clusters images and videos that are perceptually similar,
writing an advisory report without moving anything.

Designed for repeated offline runs against large media libraries: a
persistent signature cache memoizes fingerprints across invocations.`,
		Example: `  # Deduplicate two photo libraries, moving exact dupes into /tmp/sieve/dups
  filesieve ~/Pictures ~/Phone/DCIM --mode exact -a /tmp/sieve/dups

  # Also cluster perceptually similar media and write a report
  filesieve ~/Pictures --mode media --report-similar similar.json
`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := config.Overrides{BaseDirs: args, ReportSimilar: reportSimilar}
			if cmd.Flags().Changed("alternate") {
				overrides.DupDir = &dupDir
			}
			if cmd.Flags().Changed("mode") {
				m := config.Mode(mode)
				overrides.Mode = &m
			}
			if cmd.Flags().Changed("cache") {
				overrides.CacheDB = &cachePath
			}
			if noCache {
				overrides.NoCache = &noCache
			}
			if cmd.Flags().Changed("hash-workers") {
				overrides.HashWorkers = &hashWorkers
			}
			if cmd.Flags().Changed("media-workers") {
				overrides.MediaWorkers = &mediaWorkers
			}
			if cmd.Flags().Changed("ffmpeg") {
				overrides.FFmpegPath = &ffmpegPath
			}
			if cmd.Flags().Changed("ffprobe") {
				overrides.FFprobePath = &ffprobePath
			}

			var fileLayer *config.FileLayer
			if configPath != "" {
				l, err := config.ParseFile(configPath)
				if err != nil {
					return err
				}
				fileLayer = &l
			}

			cfg, err := config.Merge(overrides, fileLayer)
			if err != nil {
				return err
			}

			result, err := orchestrator.Run(cfg)
			if err != nil {
				return err
			}

			printSummary(result)

			if reportSimilar != "" {
				if err := report.WriteSimilarClusters(reportSimilar, result.MediaClusters); err != nil {
					return err
				}
				color.New(color.FgCyan).Printf("Similarity report written to %s\n", reportSimilar)
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&dupDir, "alternate", "a", "", "duplicate destination directory")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "optional config file path")
	rootCmd.Flags().StringVar(&mode, "mode", "", "pipeline selection: exact or media")
	rootCmd.Flags().StringVar(&cachePath, "cache", "", "override cache database path")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the signature cache")
	rootCmd.Flags().IntVar(&hashWorkers, "hash-workers", 0, "exact-pipeline hash worker pool size")
	rootCmd.Flags().IntVar(&mediaWorkers, "media-workers", 0, "media-pipeline signature worker pool size")
	rootCmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "", "ffmpeg binary override")
	rootCmd.Flags().StringVar(&ffprobePath, "ffprobe", "", "ffprobe binary override")
	rootCmd.Flags().StringVar(&reportSimilar, "report-similar", "", "write the similarity cluster list as JSON to this path")

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "[FATAL] %v\n", err)
		os.Exit(1)
	}
}

func printSummary(result orchestrator.Result) {
	fmt.Println()
	fmt.Printf("Run %s\n", shortRunID(result.RunID))
	color.New(color.FgGreen).Printf("Moved: %d, ", len(result.Moves))
	color.New(color.FgYellow).Printf("Similar clusters: %d, ", len(result.MediaClusters))
	fmt.Printf("Scanned: %d\n", result.FilesScanned)

	color.New(color.FgCyan).Printf(
		"Cache: %d hits / %d misses (%.1f%% hit ratio)\n",
		result.CacheHits, result.CacheMisses, result.CacheHitRatio*100,
	)
	fmt.Printf(
		"Bytes read: %s exact, %s verify\n",
		humanize.IBytes(uint64(result.BytesReadExact)),
		humanize.IBytes(uint64(result.BytesReadVerify)),
	)
	fmt.Printf(
		"Timings: scan=%s cache_open=%s exact=%s media=%s cache_finalize=%s\n",
		result.Timings.Scan, result.Timings.CacheOpen, result.Timings.Exact,
		result.Timings.Media, result.Timings.CacheFinalize,
	)
}

// shortRunID surfaces a compact prefix of the run identifier for
// terminal output. orchestrator.Run always populates RunID before
// returning successfully, so runID here is never empty.
func shortRunID(runID string) string {
	if len(runID) <= 8 {
		return runID
	}
	return runID[:8]
}
