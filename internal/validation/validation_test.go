package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrgID_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "empty", in: "", want: "", errIs: nil},
		{name: "simple", in: "org-1", want: "org-1", errIs: nil},
		{name: "dot", in: ".", want: "", errIs: ErrInvalidOrgID},
		{name: "dotdot", in: "..", want: "", errIs: ErrInvalidOrgID},
		{name: "slash", in: "a/b", want: "", errIs: ErrInvalidOrgID},
		{name: "backslash", in: `a\b`, want: "", errIs: ErrInvalidOrgID},
		{name: "traversal", in: "../escape", want: "", errIs: ErrInvalidOrgID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrgID(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestDocumentID_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "empty", in: "", want: "", errIs: nil},
		{name: "simple", in: "doc-1", want: "doc-1", errIs: nil},
		{name: "dot", in: ".", want: "", errIs: ErrInvalidDocumentID},
		{name: "dotdot", in: "..", want: "", errIs: ErrInvalidDocumentID},
		{name: "slash", in: "a/b", want: "", errIs: ErrInvalidDocumentID},
		{name: "backslash", in: `a\b`, want: "", errIs: ErrInvalidDocumentID},
		{name: "traversal", in: "../escape", want: "", errIs: ErrInvalidDocumentID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DocumentID(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}
