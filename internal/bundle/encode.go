package bundle

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lab330/inventory/internal/logging"
)

// The reverse path: serialize the current store back into the bundle shape
// consumed by Import, packaging only files actually referenced by current
// entities so export/import round-trips are symmetric.

// PackMode selects which files a namespace contributes to an export archive.
type PackMode string

const (
	// PackReferenced includes only files referenced by a current entity.
	PackReferenced PackMode = "referenced"
	// PackAll includes every file under the namespace directory.
	PackAll PackMode = "all"
)

// ParsePackMode maps a query value to a PackMode, defaulting to referenced.
func ParsePackMode(s string) PackMode {
	if strings.EqualFold(s, string(PackAll)) {
		return PackAll
	}
	return PackReferenced
}

// ExportOptions selects the packing mode per namespace.
type ExportOptions struct {
	Images PackMode
	Files  PackMode
	QA     PackMode
}

// ExportReport summarizes the repair pass and the archive contents.
type ExportReport struct {
	ProductsFixed     int `json:"productsFixed"`
	ProductFilesFixed int `json:"productFilesFixed"`
	QAReferenced      int `json:"qaReferenced"`
	ImagesPacked      int `json:"imagesPacked"`
	FilesPacked       int `json:"filesPacked"`
	QAPacked          int `json:"qaPacked"`
}

// ExportDocument snapshots every table and wraps it in the bundle document
// shape. The snapshot is read-only; use PrepareExport for the archive path,
// which repairs dangling file references first.
func (e *Engine) ExportDocument(ctx context.Context) (*Document, error) {
	data, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	data.init()
	return &Document{
		Meta: &Meta{Version: 1, ExportedAt: time.Now().UTC()},
		Data: *data,
	}, nil
}

// Export is a fully prepared archive export: all store reads, repairs and
// file selection are done, and only the zip streaming remains.
type Export struct {
	engine *Engine
	doc    *Document
	images []string
	files  []string
	qa     []string
	Report ExportReport
}

// PrepareExport runs the repair pass, snapshots the repaired store and
// selects the files to pack. No response bytes are produced yet, so callers
// can still fail cleanly before streaming begins.
func (e *Engine) PrepareExport(ctx context.Context, opts ExportOptions) (*Export, error) {
	ex := &Export{engine: e}

	usedImages, usedFiles, usedQA, err := e.repairAndCollect(ctx, &ex.Report)
	if err != nil {
		return nil, err
	}

	doc, err := e.ExportDocument(ctx)
	if err != nil {
		return nil, err
	}
	ex.doc = doc

	if ex.images, err = e.selectFiles(opts.Images, "product_images", usedImages); err != nil {
		return nil, err
	}
	if ex.files, err = e.selectFiles(opts.Files, "product_files", usedFiles); err != nil {
		return nil, err
	}
	if ex.qa, err = e.selectFiles(opts.QA, "qa", usedQA); err != nil {
		return nil, err
	}
	ex.Report.ImagesPacked = len(ex.images)
	ex.Report.FilesPacked = len(ex.files)
	ex.Report.QAPacked = len(ex.qa)

	logging.FromContext(ctx).Info("export prepared",
		"products_fixed", ex.Report.ProductsFixed,
		"product_files_fixed", ex.Report.ProductFilesFixed,
		"images", len(ex.images),
		"product_files", len(ex.files),
		"qa", len(ex.qa),
	)
	return ex, nil
}

// ExportedAt returns the snapshot timestamp, used for download filenames.
func (ex *Export) ExportedAt() time.Time { return ex.doc.Meta.ExportedAt }

// WriteArchive streams the zip: export.json, a cleanup report, then every
// selected file from the live tree.
func (ex *Export) WriteArchive(w io.Writer) error {
	zw := zip.NewWriter(w)

	docJSON, err := json.MarshalIndent(ex.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export.json: %w", err)
	}
	if err := writeZipFile(zw, "export.json", docJSON); err != nil {
		return err
	}
	if err := writeZipFile(zw, "cleanup-report.txt", []byte(ex.reportText())); err != nil {
		return err
	}

	for _, group := range [][]string{ex.images, ex.files, ex.qa} {
		for _, rel := range group {
			if err := ex.addLiveFile(zw, rel); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (ex *Export) addLiveFile(zw *zip.Writer, rel string) error {
	abs, ok := ex.engine.livePath(rel)
	if !ok {
		return nil
	}
	src, err := os.Open(abs)
	if err != nil {
		// The tree can drift between selection and streaming; skip quietly.
		return nil
	}
	defer src.Close()

	dst, err := zw.Create(rel)
	if err != nil {
		return fmt.Errorf("archive %s: %w", rel, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("archive %s: %w", rel, err)
	}
	return nil
}

func (ex *Export) reportText() string {
	lines := []string{
		"Lab330 Data Export",
		"Exported at: " + ex.doc.Meta.ExportedAt.Format(time.RFC3339),
		"",
		"Fix summary before export:",
		fmt.Sprintf("- Products cleared (missing product_images): %d", ex.Report.ProductsFixed),
		fmt.Sprintf("- ProductFiles updated (missing entries removed, sizeBytes recalculated): %d", ex.Report.ProductFilesFixed),
		fmt.Sprintf("- QA referenced files detected: %d", ex.Report.QAReferenced),
		"",
		"Files included:",
		fmt.Sprintf("- product_images: %d", len(ex.images)),
		fmt.Sprintf("- product_files: %d", len(ex.files)),
		fmt.Sprintf("- qa: %d", len(ex.qa)),
		"",
		"User.passwordHash is INCLUDED (hashed). Handle with care.",
	}
	return strings.Join(lines, "\n")
}

// repairAndCollect verifies every stored file reference against the live
// tree, persists fixes through the store (cleared image fields, pruned file
// maps, recomputed sizes), and returns the referenced path set per namespace.
func (e *Engine) repairAndCollect(ctx context.Context, rep *ExportReport) (usedImages, usedFiles, usedQA map[string]struct{}, err error) {
	data, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("snapshot store: %w", err)
	}

	usedImages = make(map[string]struct{})
	usedFiles = make(map[string]struct{})
	usedQA = make(map[string]struct{})

	for _, p := range data.Products {
		if p.LocalImage == nil || *p.LocalImage == "" {
			continue
		}
		rel := imageRel(*p.LocalImage)
		if rel == "" {
			continue
		}
		if e.liveExists(rel) {
			usedImages[rel] = struct{}{}
			continue
		}
		if err := e.store.ClearProductImage(ctx, p.ID); err != nil {
			return nil, nil, nil, fmt.Errorf("clear image on product %s: %w", p.ID, err)
		}
		rep.ProductsFixed++
	}

	for _, pf := range data.ProductFiles {
		pfPath := ""
		if pf.Path != nil {
			pfPath = *pf.Path
		}

		cleaned := make(map[string][]string)
		var total int64
		for cat, names := range pf.Files {
			var kept []string
			for _, name := range names {
				for _, rel := range fileCandidates(pf.ID, pf.ProductID, pfPath, name) {
					size, ok := e.liveSize(rel)
					if !ok {
						continue
					}
					kept = append(kept, name)
					usedFiles[rel] = struct{}{}
					total += size
					break
				}
			}
			if len(kept) > 0 {
				cleaned[cat] = kept
			}
		}

		var sizeBytes *int64
		if total > 0 {
			sizeBytes = &total
		}
		if filesEqual(pf.Files, cleaned) && int64Equal(pf.SizeBytes, sizeBytes) {
			continue
		}
		if err := e.store.UpdateProductFiles(ctx, pf.ID, cleaned, sizeBytes); err != nil {
			return nil, nil, nil, fmt.Errorf("repair product file %s: %w", pf.ID, err)
		}
		rep.ProductFilesFixed++
	}

	for _, q := range data.QAItems {
		for _, rel := range qaAssetRefs(q.ContentMd) {
			if strings.HasPrefix(rel, QAPrefix) && e.liveExists(rel) {
				usedQA[rel] = struct{}{}
			}
		}
	}
	rep.QAReferenced = len(usedQA)

	return usedImages, usedFiles, usedQA, nil
}

// selectFiles resolves a namespace's pack list: the referenced set, or a walk
// of the whole live namespace directory for PackAll.
func (e *Engine) selectFiles(mode PackMode, ns string, used map[string]struct{}) ([]string, error) {
	if mode != PackAll {
		out := make([]string, 0, len(used))
		for rel := range used {
			out = append(out, rel)
		}
		sort.Strings(out)
		return out, nil
	}

	root := filepath.Join(e.publicDir, ns)
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.publicDir, p)
		if err != nil {
			return err
		}
		out = append(out, toPosix(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", ns, err)
	}
	sort.Strings(out)
	return out, nil
}

// livePath resolves a canonical path below the public root, rejecting
// anything that would escape it.
func (e *Engine) livePath(rel string) (string, bool) {
	abs := filepath.Join(e.publicDir, filepath.FromSlash(normalizeRel(rel)))
	base := filepath.Clean(e.publicDir)
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

func (e *Engine) liveExists(rel string) bool {
	abs, ok := e.livePath(rel)
	if !ok {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

func (e *Engine) liveSize(rel string) (int64, bool) {
	abs, ok := e.livePath(rel)
	if !ok {
		return 0, false
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

func filesEqual(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for cat, av := range a {
		bv, ok := b[cat]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}

func int64Equal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
