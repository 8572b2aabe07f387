package mapfile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sourceplane/mapflow/internal/fsutil"
	"github.com/sourceplane/mapflow/internal/model"
)

// ReadListing decodes a mapfile listing: a JSON array of
// {"host": ..., "file": ..., "skip": ...} objects.
func ReadListing(r io.Reader) ([]model.Entry, error) {
	var entries []model.Entry
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("invalid mapfile listing: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("invalid mapfile listing: trailing content")
	}
	for i, e := range entries {
		if e.Node == "" || e.Path == "" {
			return nil, fmt.Errorf("invalid mapfile listing: entry %d needs host and file", i)
		}
	}
	return entries, nil
}

// ReadListingFile reads the listing at path.
func ReadListingFile(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadListing(f)
}

// EncodeListing renders entries in listing form.
func EncodeListing(entries []model.Entry) ([]byte, error) {
	if entries == nil {
		entries = []model.Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteListingFile persists entries at path, replacing any previous listing
// atomically.
func WriteListingFile(path string, entries []model.Entry) error {
	data, err := EncodeListing(entries)
	if err != nil {
		return fmt.Errorf("failed to encode mapfile: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write mapfile %s: %w", path, err)
	}
	return nil
}
