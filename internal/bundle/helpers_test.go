package bundle

import (
	"archive/zip"
	"bytes"
	"testing"
)

// zipBytes builds an in-memory zip with the given entries.
func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// mustArchive indexes a zip under a namespace prefix.
func mustArchive(t *testing.T, prefix string, entries map[string]string) *Archive {
	t.Helper()
	var data []byte
	if entries != nil {
		data = zipBytes(t, entries)
	}
	a, err := NewArchive(data, prefix)
	if err != nil {
		t.Fatalf("NewArchive(%s): %v", prefix, err)
	}
	return a
}

func strptr(s string) *string { return &s }

// A structurally valid bcrypt hash, used where a derivable credential is
// needed without running the hash function.
const testBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
