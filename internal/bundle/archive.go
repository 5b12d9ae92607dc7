package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Archive indexes one namespace's zip by canonical entry path without
// extracting anything. Content stays compressed until an entry is opened.
type Archive struct {
	prefix  string
	entries map[string]*zip.File
}

// NewArchive builds the index for one namespace prefix. Nil or empty data
// yields an empty index, which stands in for the optional QA archive when a
// bundle carries no QA items. Entry names are tolerated with or without the
// namespace prefix; directory entries are skipped; on duplicate canonical
// keys the first entry wins.
func NewArchive(data []byte, prefix string) (*Archive, error) {
	a := &Archive{prefix: prefix, entries: make(map[string]*zip.File)}
	if len(data) == 0 {
		return a, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ArchiveError{Namespace: strings.TrimSuffix(prefix, "/"), Err: err}
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		key := a.canonicalKey(f.Name)
		if _, dup := a.entries[key]; !dup {
			a.entries[key] = f
		}
	}
	return a, nil
}

// canonicalKey maps a raw entry name to its prefix-qualified key. If the name
// already contains the namespace prefix anywhere, everything up to and
// including it is discarded before requalifying.
func (a *Archive) canonicalKey(name string) string {
	raw := normalizeRel(name)
	tail := raw
	if idx := strings.Index(raw, a.prefix); idx >= 0 {
		tail = raw[idx+len(a.prefix):]
	}
	return a.prefix + stripLeadingSlash(tail)
}

// Has reports whether the canonical key exists in the index.
func (a *Archive) Has(key string) bool {
	_, ok := a.entries[key]
	return ok
}

// Size returns the uncompressed byte length of an entry.
func (a *Archive) Size(key string) (int64, bool) {
	f, ok := a.entries[key]
	if !ok {
		return 0, false
	}
	return int64(f.UncompressedSize64), true
}

// Open returns a reader over the entry's content.
func (a *Archive) Open(key string) (io.ReadCloser, error) {
	f, ok := a.entries[key]
	if !ok {
		return nil, fmt.Errorf("archive entry not found: %s", key)
	}
	return f.Open()
}

// ReadFile reads an entry's full content.
func (a *Archive) ReadFile(key string) ([]byte, error) {
	rc, err := a.Open(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Len returns the number of indexed entries.
func (a *Archive) Len() int { return len(a.entries) }

// Keys returns every canonical key in sorted order.
func (a *Archive) Keys() []string {
	keys := make([]string, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
