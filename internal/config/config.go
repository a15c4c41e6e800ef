// Package config loads and validates FileSieve's run configuration,
// folding three layers in precedence order: explicit overrides (CLI
// flags), the parsed config file, and built-in defaults.
//
// The config file reader is a small hand-rolled `[section]` / `key =
// value` parser rather than a third-party ini library: scope is two
// sections and a dozen keys, and nothing in the retrieval pack offers a
// closer fit for that size (see DESIGN.md). Everything else here
// follows the teacher's validate-then-os.Exit style, generalized into
// a returned ConfigurationError so callers other than the CLI can
// handle it.
package config

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Mode selects which pipelines a run executes.
type Mode string

const (
	ModeExact Mode = "exact"
	ModeMedia Mode = "media"
)

// ConfigurationError reports a fatal, construction-time configuration
// problem.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Thresholds holds the media-similarity cutoffs.
type Thresholds struct {
	ImageHamming       int
	VideoHamming       int
	VideoFrameHamming  int
	DurationBucketSecs int
}

// Config is the fully merged, validated run configuration.
type Config struct {
	DupDir          string
	Mode            Mode
	CacheDB         string
	NoCache         bool
	HashWorkers     int
	MediaWorkers    int
	MediaEnabled    bool
	FFmpegPath      string
	FFprobePath     string
	Thresholds      Thresholds
	BaseDirs        []string
	ReportSimilar   string
}

// FileLayer is the partially-populated configuration parsed from a
// config file; a nil field means "not set by this layer".
type FileLayer struct {
	DupDir       *string
	Mode         *Mode
	CacheDB      *string
	NoCache      *bool
	HashWorkers  *int
	MediaWorkers *int
	MediaEnabled *bool
	FFmpegPath   *string
	FFprobePath  *string
	Thresholds   thresholdLayer
}

type thresholdLayer struct {
	ImageHamming       *int
	VideoHamming       *int
	VideoFrameHamming  *int
	DurationBucketSecs *int
}

// Defaults returns the built-in default layer, scaled to the host's
// CPU count where the spec calls for it.
func Defaults() Config {
	cpu := runtime.NumCPU()
	hashWorkers := clamp(2*cpu, 4, 16)
	mediaWorkers := maxInt(2, cpu/2)

	return Config{
		DupDir:       "/tmp/sieve/dups",
		Mode:         ModeMedia,
		CacheDB:      ".filesieve-cache.sqlite",
		HashWorkers:  hashWorkers,
		MediaWorkers: mediaWorkers,
		MediaEnabled: true,
		Thresholds: Thresholds{
			ImageHamming:       8,
			VideoHamming:       32,
			VideoFrameHamming:  12,
			DurationBucketSecs: 2,
		},
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ParseFile reads a config file's [global] and [media] sections into a
// layer to be folded over the defaults.
func ParseFile(path string) (FileLayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileLayer{}, &ConfigurationError{Reason: fmt.Sprintf("cannot open config file %s: %v", path, err)}
	}
	defer f.Close()

	var l FileLayer
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if err := applyKey(&l, section, key, value); err != nil {
			return FileLayer{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return FileLayer{}, &ConfigurationError{Reason: fmt.Sprintf("reading config file %s: %v", path, err)}
	}
	return l, nil
}

func applyKey(l *FileLayer, section, key, value string) error {
	switch section {
	case "global":
		switch key {
		case "dup_dir":
			l.DupDir = &value
		case "mode":
			mode := Mode(value)
			l.Mode = &mode
		case "cache_db":
			l.CacheDB = &value
		case "hash_workers":
			n, err := strconv.Atoi(value)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("hash_workers must be an integer, got %q", value)}
			}
			l.HashWorkers = &n
		case "media_workers":
			n, err := strconv.Atoi(value)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("media_workers must be an integer, got %q", value)}
			}
			l.MediaWorkers = &n
		}
	case "media":
		switch key {
		case "enabled":
			b := value == "true" || value == "1" || value == "yes"
			l.MediaEnabled = &b
		case "ffmpeg_path":
			l.FFmpegPath = &value
		case "ffprobe_path":
			l.FFprobePath = &value
		case "image_hamming_threshold":
			n, err := strconv.Atoi(value)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("image_hamming_threshold must be an integer, got %q", value)}
			}
			l.Thresholds.ImageHamming = &n
		case "video_hamming_threshold":
			n, err := strconv.Atoi(value)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("video_hamming_threshold must be an integer, got %q", value)}
			}
			l.Thresholds.VideoHamming = &n
		case "video_frame_hamming_threshold":
			n, err := strconv.Atoi(value)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("video_frame_hamming_threshold must be an integer, got %q", value)}
			}
			l.Thresholds.VideoFrameHamming = &n
		case "duration_bucket_seconds":
			n, err := strconv.Atoi(value)
			if err != nil {
				return &ConfigurationError{Reason: fmt.Sprintf("duration_bucket_seconds must be an integer, got %q", value)}
			}
			l.Thresholds.DurationBucketSecs = &n
		}
	}
	return nil
}

// Overrides is the explicit, highest-precedence layer built from CLI
// flags. Fields are applied only when Set.
type Overrides struct {
	DupDir       *string
	Mode         *Mode
	CacheDB      *string
	NoCache      *bool
	HashWorkers  *int
	MediaWorkers *int
	FFmpegPath   *string
	FFprobePath  *string
	BaseDirs     []string
	ReportSimilar string
}

// Merge folds constructor overrides, an optional parsed file layer,
// and the defaults into one effective Config, in that precedence
// order, then validates it.
func Merge(overrides Overrides, file *FileLayer) (Config, error) {
	cfg := Defaults()

	if file != nil {
		applyLayer(&cfg, *file)
	}
	applyOverrides(&cfg, overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyLayer(cfg *Config, l FileLayer) {
	if l.DupDir != nil {
		cfg.DupDir = *l.DupDir
	}
	if l.Mode != nil {
		cfg.Mode = *l.Mode
	}
	if l.CacheDB != nil {
		cfg.CacheDB = *l.CacheDB
	}
	if l.HashWorkers != nil {
		cfg.HashWorkers = *l.HashWorkers
	}
	if l.MediaWorkers != nil {
		cfg.MediaWorkers = *l.MediaWorkers
	}
	if l.MediaEnabled != nil {
		cfg.MediaEnabled = *l.MediaEnabled
	}
	if l.FFmpegPath != nil {
		cfg.FFmpegPath = *l.FFmpegPath
	}
	if l.FFprobePath != nil {
		cfg.FFprobePath = *l.FFprobePath
	}
	if l.Thresholds.ImageHamming != nil {
		cfg.Thresholds.ImageHamming = *l.Thresholds.ImageHamming
	}
	if l.Thresholds.VideoHamming != nil {
		cfg.Thresholds.VideoHamming = *l.Thresholds.VideoHamming
	}
	if l.Thresholds.VideoFrameHamming != nil {
		cfg.Thresholds.VideoFrameHamming = *l.Thresholds.VideoFrameHamming
	}
	if l.Thresholds.DurationBucketSecs != nil {
		cfg.Thresholds.DurationBucketSecs = *l.Thresholds.DurationBucketSecs
	}
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.DupDir != nil {
		cfg.DupDir = *o.DupDir
	}
	if o.Mode != nil {
		cfg.Mode = *o.Mode
	}
	if o.CacheDB != nil {
		cfg.CacheDB = *o.CacheDB
	}
	if o.NoCache != nil {
		cfg.NoCache = *o.NoCache
	}
	if o.HashWorkers != nil {
		cfg.HashWorkers = *o.HashWorkers
	}
	if o.MediaWorkers != nil {
		cfg.MediaWorkers = *o.MediaWorkers
	}
	if o.FFmpegPath != nil {
		cfg.FFmpegPath = *o.FFmpegPath
	}
	if o.FFprobePath != nil {
		cfg.FFprobePath = *o.FFprobePath
	}
	cfg.BaseDirs = o.BaseDirs
	cfg.ReportSimilar = o.ReportSimilar
}

func validate(cfg Config) error {
	if cfg.Mode != ModeExact && cfg.Mode != ModeMedia {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid mode %q, must be %q or %q", cfg.Mode, ModeExact, ModeMedia)}
	}
	if cfg.HashWorkers <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("hash_workers must be positive, got %d", cfg.HashWorkers)}
	}
	if cfg.MediaWorkers <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("media_workers must be positive, got %d", cfg.MediaWorkers)}
	}
	if cfg.Thresholds.ImageHamming <= 0 || cfg.Thresholds.VideoHamming <= 0 || cfg.Thresholds.VideoFrameHamming <= 0 {
		return &ConfigurationError{Reason: "similarity thresholds must be positive"}
	}
	if cfg.DupDir == "" {
		return &ConfigurationError{Reason: "dup_dir must not be empty"}
	}
	if err := ensureWritableDir(cfg.DupDir); err != nil {
		return err
	}
	for _, dir := range cfg.BaseDirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return &ConfigurationError{Reason: fmt.Sprintf("base directory %q does not exist or is not a directory", dir)}
		}
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("dup_dir %q is not writable: %v", dir, err)}
	}
	return nil
}
