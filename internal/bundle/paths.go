package bundle

import (
	"path"
	"strings"
)

// Namespace prefixes partitioning archive entries and the public file tree.
const (
	ImagesPrefix = "product_images/"
	FilesPrefix  = "product_files/"
	QAPrefix     = "qa/"
)

func toPosix(p string) string { return strings.ReplaceAll(p, "\\", "/") }

func stripLeadingSlash(p string) string { return strings.TrimLeft(p, "/\\") }

// normalizeRel canonicalizes a path relative to the public root: forward
// slashes, no leading slash, no "public/" prefix.
func normalizeRel(p string) string {
	rel := stripLeadingSlash(toPosix(p))
	rel = strings.TrimPrefix(rel, "public/")
	return rel
}

// imageRel returns the canonical product_images/ key for a localImage value,
// tolerating values that already carry the prefix.
func imageRel(localImage string) string {
	rel := normalizeRel(localImage)
	if rel == "" {
		return ""
	}
	if !strings.HasPrefix(rel, ImagesPrefix) {
		rel = ImagesPrefix + rel
	}
	return rel
}

// filesBase normalizes a ProductFile path into "product_files" or
// "product_files/<sub>" without doubling the prefix.
func filesBase(pfPath string) string {
	rel := normalizeRel(pfPath)
	rel = strings.TrimPrefix(rel, FilesPrefix)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return strings.TrimSuffix(FilesPrefix, "/")
	}
	return FilesPrefix + rel
}

// fileCandidates lists the canonical keys to try for one files[] entry, in
// order: the row's own path base, the owning product's id, then the row's id.
// An entry that already carries the namespace prefix is used verbatim.
func fileCandidates(id, productID, pfPath, name string) []string {
	entry := normalizeRel(name)
	if strings.HasPrefix(entry, FilesPrefix) {
		return []string{entry}
	}

	seen := make(map[string]struct{}, 3)
	out := make([]string, 0, 3)
	add := func(p string) {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	add(path.Join(filesBase(pfPath), entry))
	add(path.Join(FilesPrefix+productID, entry))
	add(path.Join(FilesPrefix+id, entry))
	return out
}
