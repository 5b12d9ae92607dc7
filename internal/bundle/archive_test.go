package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func TestNewArchive_NilData(t *testing.T) {
	a, err := NewArchive(nil, QAPrefix)
	if err != nil {
		t.Fatalf("NewArchive(nil) error = %v", err)
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d, want 0", a.Len())
	}
	if a.Has("qa/anything.png") {
		t.Error("Has() on empty archive = true, want false")
	}
}

func TestNewArchive_BadZip(t *testing.T) {
	_, err := NewArchive([]byte("definitely not a zip"), ImagesPrefix)
	var archiveErr *ArchiveError
	if !errors.As(err, &archiveErr) {
		t.Fatalf("NewArchive() error = %v, want ArchiveError", err)
	}
	if archiveErr.Namespace != "product_images" {
		t.Errorf("ArchiveError.Namespace = %q, want %q", archiveErr.Namespace, "product_images")
	}
}

func TestArchive_CanonicalKeys(t *testing.T) {
	a := mustArchive(t, ImagesPrefix, map[string]string{
		"product_images/a.png":             "a",
		"bundle/product_images/nested.png": "n",
		"bare.png":                         "b",
		"/public/product_images/pub.png":   "p",
	})

	for _, key := range []string{
		"product_images/a.png",
		"product_images/nested.png",
		"product_images/bare.png",
		"product_images/pub.png",
	} {
		if !a.Has(key) {
			t.Errorf("Has(%q) = false, want true; keys = %v", key, a.Keys())
		}
	}
}

func TestArchive_FirstEntryWinsOnDuplicate(t *testing.T) {
	// Two spellings of the same canonical key, written in a fixed order.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range []struct{ name, content string }{
		{"qa/dup.txt", "first"},
		{"/qa/dup.txt", "second"},
	} {
		f, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		f.Write([]byte(e.content))
	}
	zw.Close()

	a, err := NewArchive(buf.Bytes(), QAPrefix)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Len())
	}
	got, err := a.ReadFile("qa/dup.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("ReadFile() = %q, want %q", got, "first")
	}
}

func TestArchive_Size(t *testing.T) {
	a := mustArchive(t, FilesPrefix, map[string]string{
		"product_files/p1/doc.pdf": "12345",
	})

	size, ok := a.Size("product_files/p1/doc.pdf")
	if !ok || size != 5 {
		t.Errorf("Size() = (%d, %v), want (5, true)", size, ok)
	}
	if _, ok := a.Size("product_files/p1/missing.pdf"); ok {
		t.Error("Size() on missing entry = true, want false")
	}
}

func TestArchive_ReadFile(t *testing.T) {
	a := mustArchive(t, QAPrefix, map[string]string{
		"qa/img/shot.png": "pixels",
	})
	got, err := a.ReadFile("qa/img/shot.png")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "pixels" {
		t.Errorf("ReadFile() = %q, want %q", got, "pixels")
	}

	if _, err := a.ReadFile("qa/none.png"); err == nil {
		t.Error("ReadFile() on missing entry expected error")
	}
}
