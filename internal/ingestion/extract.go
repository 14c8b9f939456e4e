package ingestion

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractText pulls plain text and a page count out of a PDF blob. Pages
// that fail to extract are skipped rather than failing the whole document —
// a single malformed page shouldn't sink an otherwise-readable file.
func extractText(blob []byte) (text string, pageCount int, err error) {
	reader, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	pageCount = reader.NumPage()

	var buf strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(pageText)
		buf.WriteString("\n")
	}
	return buf.String(), pageCount, nil
}
