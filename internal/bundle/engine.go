// Package bundle implements the export bundle reconciliation engine: it
// validates and deduplicates an incoming bundle (metadata document plus
// images, attachment and QA archives), cascades survival through foreign
// keys, and then atomically replaces the persisted dataset and the on-disk
// file trees. The reverse path serializes the current store back into the
// same bundle shape.
package bundle

import (
	"context"
	"fmt"

	"github.com/lab330/inventory/internal/logging"
)

// Store is the persistence boundary the engine drives. Implementations must
// make Replace all-or-nothing; the engine never observes a partially
// replaced dataset.
type Store interface {
	// Replace swaps the entire persisted dataset inside one transaction,
	// deleting in child-to-parent order and inserting in parent-to-child
	// order.
	Replace(ctx context.Context, data *Dataset) error

	// Snapshot reads every managed table in stable order.
	Snapshot(ctx context.Context) (*Dataset, error)

	// ClearProductImage nulls both image fields on one product. Used by the
	// export repair pass when the referenced image is gone from disk.
	ClearProductImage(ctx context.Context, productID string) error

	// UpdateProductFiles persists a repaired file map and recomputed size for
	// one product-file row.
	UpdateProductFiles(ctx context.Context, id string, files map[string][]string, sizeBytes *int64) error
}

// Config carries the engine's explicit environment: the root below which the
// three namespace directories live.
type Config struct {
	PublicDir string
}

// Engine runs bundle imports and exports as single sequential batch
// operations. Callers are responsible for serializing invocations; the
// engine holds no lock of its own.
type Engine struct {
	store     Store
	publicDir string
}

// NewEngine creates an engine over the given store and file tree root.
func NewEngine(store Store, cfg Config) *Engine {
	return &Engine{store: store, publicDir: cfg.PublicDir}
}

// ImportInput is one logical import request: the metadata document plus the
// raw bytes of the three archives. Images and Files must always be present;
// QA may be nil when the bundle carries no QA items.
type ImportInput struct {
	Metadata []byte
	Images   []byte
	Files    []byte
	QA       []byte
}

// ImportReport summarizes a successful import: per-table survivor counts,
// per-namespace extraction counts, and pruning statistics.
type ImportReport struct {
	Counts    map[string]int  `json:"counts"`
	Extracted ExtractedCounts `json:"files"`
	Pruned    PrunedCounts    `json:"pruned"`
}

// ExtractedCounts is the number of archive entries written per namespace.
type ExtractedCounts struct {
	Images int `json:"images_extracted"`
	Files  int `json:"product_files_extracted"`
	QA     int `json:"qa_extracted"`
}

// PrunedCounts reports pruning applied during resolution.
type PrunedCounts struct {
	ProductFilesKept     int `json:"productFilesKept"`
	ProductFilesDropped  int `json:"productFilesDropped"`
	LocationCyclesBroken int `json:"locationCyclesBroken"`
}

// Import runs the full reconciliation: decode, index, resolve, then the
// destructive phase. Decoding and resolution are pure; no filesystem or store
// mutation happens until both succeed. The store transaction commits before
// the staged file trees are swapped in, so a store failure leaves the live
// tree untouched.
func (e *Engine) Import(ctx context.Context, in ImportInput) (*ImportReport, error) {
	log := logging.FromContext(ctx)

	doc, err := DecodeDocument(in.Metadata)
	if err != nil {
		return nil, err
	}

	// The image and file archives are always required: accepting a bundle
	// without them would resolve every reference as missing and erase the
	// corresponding live trees. QA is required only when items reference it.
	if in.Images == nil {
		return nil, &MissingArchiveError{Namespace: "product_images"}
	}
	if in.Files == nil {
		return nil, &MissingArchiveError{Namespace: "product_files"}
	}
	if len(doc.Data.QAItems) > 0 && in.QA == nil {
		return nil, &MissingArchiveError{Namespace: "qa"}
	}

	images, err := NewArchive(in.Images, ImagesPrefix)
	if err != nil {
		return nil, err
	}
	pfiles, err := NewArchive(in.Files, FilesPrefix)
	if err != nil {
		return nil, err
	}
	qa, err := NewArchive(in.QA, QAPrefix)
	if err != nil {
		return nil, err
	}

	res, err := Resolve(&doc.Data, images, pfiles, qa)
	if err != nil {
		return nil, err
	}

	// Validation gate passed; everything below is the destructive phase.
	st, err := newStaging(e.publicDir)
	if err != nil {
		return nil, fmt.Errorf("prepare staging: %w", err)
	}

	var extracted ExtractedCounts
	if extracted.Images, err = st.extract(images, res.UsedImages); err != nil {
		st.discard()
		return nil, fmt.Errorf("extract images: %w", err)
	}
	if extracted.Files, err = st.extract(pfiles, res.UsedFiles); err != nil {
		st.discard()
		return nil, fmt.Errorf("extract product files: %w", err)
	}
	if extracted.QA, err = st.extract(qa, res.UsedQA); err != nil {
		st.discard()
		return nil, fmt.Errorf("extract qa assets: %w", err)
	}

	if err := e.store.Replace(ctx, &res.Data); err != nil {
		st.discard()
		return nil, fmt.Errorf("replace store: %w", err)
	}

	if err := st.commit(e.publicDir); err != nil {
		// The store already holds the new dataset; the file tree swap is the
		// one step that can leave the two out of sync.
		return nil, fmt.Errorf("swap file trees: %w", err)
	}

	report := &ImportReport{
		Counts:    res.Data.Counts(),
		Extracted: extracted,
		Pruned: PrunedCounts{
			ProductFilesKept:     res.Stats.ProductFilesKept,
			ProductFilesDropped:  res.Stats.ProductFilesDropped,
			LocationCyclesBroken: res.Stats.LocationCyclesBroken,
		},
	}

	log.Info("bundle imported",
		"locations", report.Counts["locations"],
		"products", report.Counts["products"],
		"stocks", report.Counts["stocks"],
		"users", report.Counts["users"],
		"qa_items", report.Counts["qaItems"],
		"images_extracted", extracted.Images,
		"product_files_extracted", extracted.Files,
		"qa_extracted", extracted.QA,
		"product_files_dropped", res.Stats.ProductFilesDropped,
	)
	return report, nil
}
