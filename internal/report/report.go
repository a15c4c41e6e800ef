// Package report writes the perceptual-similarity cluster list as a
// pretty-printed JSON document with a trailing newline, the contract
// spec.md §6 fixes for --report-similar.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"filesieve/internal/media"
)

// clusterJSON is the on-disk shape of one cluster record. Field names
// are stable report output, independent of the internal Cluster type's
// Go field names.
type clusterJSON struct {
	ClusterID    string             `json:"cluster_id"`
	Paths        []string           `json:"paths"`
	ScoreSummary scoreSummaryJSON   `json:"score_summary"`
}

// Field order matches the sorted-key order of their json tags
// (kind, max, min, pairs), since encoding/json emits struct fields in
// declaration order, not sorted order.
type scoreSummaryJSON struct {
	Kind  string `json:"kind"`
	Max   int    `json:"max"`
	Min   int    `json:"min"`
	Pairs int    `json:"pairs"`
}

// WriteSimilarClusters marshals clusters to path as sorted-key,
// indented JSON with a trailing newline.
func WriteSimilarClusters(path string, clusters []media.Cluster) error {
	out := make([]clusterJSON, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, clusterJSON{
			ClusterID: c.ClusterID,
			Paths:     c.Paths,
			ScoreSummary: scoreSummaryJSON{
				Kind:  string(c.ScoreSummary.Kind),
				Max:   c.ScoreSummary.Max,
				Min:   c.ScoreSummary.Min,
				Pairs: c.ScoreSummary.Pairs,
			},
		})
	}

	// encoding/json marshals struct fields in declaration order; both
	// clusterJSON (cluster_id, paths, score_summary) and
	// scoreSummaryJSON (kind, max, min, pairs) declare their fields in
	// that sorted order, satisfying the sorted-keys requirement without
	// a map round-trip.
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal clusters: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}
