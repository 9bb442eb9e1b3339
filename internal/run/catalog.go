package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"lineup/internal/stream"
)

// FileCatalog reads stream descriptors from a JSON file: an array of
// {"id", "text", "group_id"} objects.
type FileCatalog struct {
	path string
}

// NewFileCatalog builds a catalog backed by a JSON file.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{path: path}
}

type wireDescriptor struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	GroupID int64  `json:"group_id"`
}

// Streams loads and validates the descriptor list.
func (c *FileCatalog) Streams(context.Context) ([]stream.Descriptor, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read stream catalog: %w", err)
	}
	var wire []wireDescriptor
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse stream catalog %s: %w", c.path, err)
	}
	descriptors := make([]stream.Descriptor, 0, len(wire))
	for i, w := range wire {
		if w.ID == "" {
			return nil, fmt.Errorf("stream catalog %s: entry %d has no id", c.path, i)
		}
		if w.Text == "" {
			return nil, fmt.Errorf("stream catalog %s: entry %d (%s) has no text", c.path, i, w.ID)
		}
		descriptors = append(descriptors, stream.Descriptor{ID: w.ID, Text: w.Text, GroupID: w.GroupID})
	}
	return descriptors, nil
}

// StaticCatalog serves a fixed descriptor list.
type StaticCatalog []stream.Descriptor

// Streams returns the list as supplied.
func (c StaticCatalog) Streams(context.Context) ([]stream.Descriptor, error) {
	return []stream.Descriptor(c), nil
}
