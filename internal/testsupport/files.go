package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"lineup/internal/stream"
)

// WriteCatalog writes a stream catalog JSON file in the shape the run
// package's file catalog reads, returning its path.
func WriteCatalog(t testing.TB, dir string, descriptors []stream.Descriptor) string {
	t.Helper()

	type wire struct {
		ID      string `json:"id"`
		Text    string `json:"text"`
		GroupID int64  `json:"group_id"`
	}
	out := make([]wire, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, wire{ID: d.ID, Text: d.Text, GroupID: d.GroupID})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		t.Fatalf("encode catalog: %v", err)
	}

	path := filepath.Join(dir, "streams.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write catalog %s: %v", path, err)
	}
	return path
}
