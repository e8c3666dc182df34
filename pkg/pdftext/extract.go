// Package pdftext turns PDF bytes into plain text.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnreadable is returned when the payload is not a parseable PDF container.
var ErrUnreadable = errors.New("unreadable pdf")

// Extractor converts a document payload into text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

// PDFExtractor extracts embedded text page by page. It does no OCR.
type PDFExtractor struct{}

// Extract concatenates the text of every page in order. Pages without
// extractable text contribute nothing.
func (PDFExtractor) Extract(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnreadable)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}
