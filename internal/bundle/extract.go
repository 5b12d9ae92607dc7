package bundle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Selective extraction is staged: entries named by a surviving entity are
// written under a temporary root inside the public directory first, and the
// live namespace directories are swapped only after the store replacement
// commits. A failed import discards the staging tree and never touches the
// live one.

const stagingPrefix = ".staging-"

var namespaceDirs = []string{"product_images", "product_files", "qa"}

type staging struct {
	root string
}

// newStaging creates the staging root and an empty directory per namespace,
// so a commit always has something to swap in even when nothing is extracted.
func newStaging(publicDir string) (*staging, error) {
	if err := os.MkdirAll(publicDir, 0o755); err != nil {
		return nil, fmt.Errorf("create public dir: %w", err)
	}
	root, err := os.MkdirTemp(publicDir, stagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	for _, ns := range namespaceDirs {
		if err := os.MkdirAll(filepath.Join(root, ns), 0o755); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("create staging namespace %s: %w", ns, err)
		}
	}
	return &staging{root: root}, nil
}

// extract writes every used entry that exists in the archive under the
// staging root, preserving directory structure. Entries absent from the
// archive or escaping the root are skipped. Returns the number written.
func (st *staging) extract(ar *Archive, used map[string]struct{}) (int, error) {
	keys := make([]string, 0, len(used))
	for k := range used {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for _, key := range keys {
		if !ar.Has(key) {
			continue
		}
		abs, ok := st.safeJoin(key)
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return written, fmt.Errorf("extract %s: %w", key, err)
		}
		if err := writeEntry(ar, key, abs); err != nil {
			return written, fmt.Errorf("extract %s: %w", key, err)
		}
		written++
	}
	return written, nil
}

func writeEntry(ar *Archive, key, abs string) error {
	rc, err := ar.Open(key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(abs)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// commit swaps each staged namespace directory into the live tree. The old
// directory is renamed aside so the swap is a pair of same-filesystem
// renames, then removed along with the staging root.
func (st *staging) commit(publicDir string) error {
	for _, ns := range namespaceDirs {
		live := filepath.Join(publicDir, ns)
		trash := filepath.Join(publicDir, stagingPrefix+"old-"+ns)

		os.RemoveAll(trash)
		if _, err := os.Stat(live); err == nil {
			if err := os.Rename(live, trash); err != nil {
				return fmt.Errorf("retire %s: %w", ns, err)
			}
		}
		if err := os.Rename(filepath.Join(st.root, ns), live); err != nil {
			return fmt.Errorf("swap in %s: %w", ns, err)
		}
		os.RemoveAll(trash)
	}
	return os.RemoveAll(st.root)
}

// discard removes the staging tree, leaving the live directories untouched.
func (st *staging) discard() {
	os.RemoveAll(st.root)
}

// safeJoin resolves a canonical entry path below the staging root, rejecting
// anything that would escape it.
func (st *staging) safeJoin(rel string) (string, bool) {
	abs := filepath.Join(st.root, filepath.FromSlash(rel))
	if abs != st.root && !strings.HasPrefix(abs, st.root+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}
