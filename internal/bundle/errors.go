package bundle

import (
	"errors"
	"fmt"
	"strings"
)

// Errors crossing the engine boundary fall into three classes: input-shape
// errors (DecodeError, ArchiveError, MissingArchiveError), validation errors
// caught before the destructive phase (ValidationError), and destructive
// phase failures, which are returned as plain wrapped errors. The first two
// classes are client errors; IsClientError lets the transport layer map them
// to a 4xx status.

// DecodeError reports a metadata document that could not be decoded into
// typed record lists.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed metadata document: field %q: %s", e.Field, e.Reason)
	}
	return "malformed metadata document: " + e.Reason
}

// ArchiveError reports an archive that could not be read as a zip.
type ArchiveError struct {
	Namespace string
	Err       error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("unreadable %s archive: %v", e.Namespace, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// MissingArchiveError reports an upload without an archive the bundle needs:
// the image and file archives are always required, the QA archive whenever
// the metadata carries QA items.
type MissingArchiveError struct {
	Namespace string
}

func (e *MissingArchiveError) Error() string {
	return fmt.Sprintf("missing required archive: %s", e.Namespace)
}

// ValidationError reports a hard invariant violation found during resolution.
// Samples holds up to ten offending row identifiers so the source bundle can
// be fixed.
type ValidationError struct {
	Rule    string
	Samples []string
	Total   int
}

func (e *ValidationError) Error() string {
	suffix := ""
	if e.Total > len(e.Samples) {
		suffix = ", ..."
	}
	return fmt.Sprintf("%s: %d row(s) affected [%s%s]", e.Rule, e.Total, strings.Join(e.Samples, ", "), suffix)
}

// IsClientError reports whether err originates from the bundle itself rather
// than from the destructive phase, meaning the caller should fix the input
// and nothing was mutated.
func IsClientError(err error) bool {
	var (
		decodeErr     *DecodeError
		archiveErr    *ArchiveError
		missingErr    *MissingArchiveError
		validationErr *ValidationError
	)
	return errors.As(err, &decodeErr) ||
		errors.As(err, &archiveErr) ||
		errors.As(err, &missingErr) ||
		errors.As(err, &validationErr)
}
