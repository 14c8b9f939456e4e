// Package validation guards identifiers that get interpolated directly into
// storage keys (object store paths, cache keys) against path traversal.
// It has no dependency on other internal packages to avoid import cycles.
package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidOrgID indicates the org id is malformed or attempts path traversal.
var ErrInvalidOrgID = errors.New("invalid org id")

// ErrInvalidDocumentID indicates the document id is malformed or attempts path traversal.
var ErrInvalidDocumentID = errors.New("invalid document id")

// OrgID checks that an org id is safe to use as the leading segment of an
// object store key (internal/ingestion's upload path prefixes every blob
// with its owning org). Multi-tenant isolation depends on this prefix
// staying inside the org's own namespace.
func OrgID(orgID string) (string, error) {
	clean, ok := safeSegment(orgID)
	if !ok {
		return "", ErrInvalidOrgID
	}
	return clean, nil
}

// DocumentID checks that a document id is safe to use as an object store
// key segment, the same way OrgID does for the org prefix.
func DocumentID(documentID string) (string, error) {
	clean, ok := safeSegment(documentID)
	if !ok {
		return "", ErrInvalidDocumentID
	}
	return clean, nil
}

func safeSegment(id string) (string, bool) {
	if id == "" {
		return "", true
	}
	if id == "." || id == ".." {
		return "", false
	}
	if strings.ContainsAny(id, `/\`) {
		return "", false
	}
	clean := filepath.Clean(id)
	if clean != id ||
		strings.HasPrefix(clean, "..") ||
		strings.Contains(clean, string(os.PathSeparator)+"..") ||
		filepath.IsAbs(clean) {
		return "", false
	}
	return clean, true
}
