package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lab330/inventory/internal/bundle"
	"github.com/lab330/inventory/internal/logging"
)

// Multipart part names accepted per role. The metadata document and the image
// and file archives are required; the QA archive only when the dataset
// carries QA items. Several aliases survive from older client builds.
var (
	metadataParts = []string{"export", "metadata", "export.json"}
	imageParts    = []string{"product_images", "images"}
	fileParts     = []string{"product_files", "files"}
	qaParts       = []string{"qa", "qa_zip", "qaZip", "qa.zip", "qa_files", "qaFiles"}
)

// handleImport accepts a multipart bundle upload and replaces the full
// application state with its contents.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Bundle.ImportTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Bundle.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.badRequest(w, r, fmt.Sprintf("upload exceeds limit of %d bytes", maxErr.Limit))
			return
		}
		s.badRequest(w, r, "request body must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	meta, err := readPart(r.MultipartForm, metadataParts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if meta == nil {
		s.badRequest(w, r, "missing metadata part (expected field \"export\")")
		return
	}

	images, err := readPart(r.MultipartForm, imageParts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	files, err := readPart(r.MultipartForm, fileParts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	qa, err := readPart(r.MultipartForm, qaParts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	report, err := s.engine.Import(ctx, bundle.ImportInput{
		Metadata: meta,
		Images:   images,
		Files:    files,
		QA:       qa,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, report)
}

// readPart returns the bytes of the first multipart file found under any of
// the given field names, or nil when none is present.
func readPart(form *multipart.Form, names []string) ([]byte, error) {
	for _, name := range names {
		headers := form.File[name]
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("open upload part %s: %w", name, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload part %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// handleExport serves the current state as a zip bundle, or as a bare JSON
// document with ?format=json. Pack modes come from the images, files and qa
// query parameters ("referenced" or "all").
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("format") == "json" {
		doc, err := s.engine.ExportDocument(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		name := exportFilename(doc.Meta.ExportedAt, "json")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			logging.FromContext(r.Context()).Error("export stream aborted", "error", err)
		}
		return
	}

	opts := bundle.ExportOptions{
		Images: bundle.ParsePackMode(q.Get("images")),
		Files:  bundle.ParsePackMode(q.Get("files")),
		QA:     bundle.ParsePackMode(q.Get("qa")),
	}

	ex, err := s.engine.PrepareExport(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := exportFilename(ex.ExportedAt(), "zip")
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := ex.WriteArchive(w); err != nil {
		// Headers are already sent; the client sees a truncated archive.
		logging.FromContext(r.Context()).Error("export stream aborted", "error", err)
	}
}

// exportFilename builds the download name, e.g. lab330-export-2026-01-02T15-04-05.zip.
func exportFilename(t time.Time, ext string) string {
	stamp := t.UTC().Format("2006-01-02T15-04-05")
	return "lab330-export-" + stamp + "." + ext
}
