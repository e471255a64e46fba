// Package extract defines the document-extraction collaborator boundary.
// Real PDF rendering and OCR live behind these interfaces; the core only
// decides when a page's primary text is too sparse and OCR should be tried.
package extract

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/korjavin/quizbot/textproc"
)

// ErrNotConfigured is returned by the placeholder implementations so the
// caller can distinguish "no extractor wired" from an extraction failure.
var ErrNotConfigured = errors.New("extractor not configured")

// Page is one document page: the primary extracted text and, when the
// extractor can render it, the page image for OCR fallback.
type Page struct {
	Text  string
	Image []byte
}

// Extractor turns raw document bytes into per-page text.
type Extractor interface {
	Pages(ctx context.Context, data []byte) ([]Page, error)
}

// OCR recognizes text on a rendered page image.
type OCR interface {
	Text(ctx context.Context, image []byte) (string, error)
}

// Composite runs the primary extractor and applies the density heuristic:
// a page whose text falls below the minimum character density is re-read
// through OCR when an image and an OCR engine are available. OCR failures
// degrade to the sparse primary text rather than failing the document.
type Composite struct {
	Primary Extractor
	OCR     OCR
}

// Text extracts the whole document as one normalized-ready string, pages
// joined by blank lines.
func (c Composite) Text(ctx context.Context, data []byte) (string, error) {
	pages, err := c.Primary.Pages(ctx, data)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		text := p.Text
		if textproc.NeedsOCR(text) && c.OCR != nil && len(p.Image) > 0 {
			if ocrText, ocrErr := c.OCR.Text(ctx, p.Image); ocrErr == nil {
				text = ocrText
			}
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// PlainText treats the uploaded bytes as UTF-8 text with form-feed page
// breaks. It makes plain .txt uploads work end to end and doubles as the
// extractor used in tests.
type PlainText struct{}

func (PlainText) Pages(_ context.Context, data []byte) ([]Page, error) {
	chunks := bytes.Split(data, []byte{'\f'})
	pages := make([]Page, len(chunks))
	for i, c := range chunks {
		pages[i] = Page{Text: string(c)}
	}
	return pages, nil
}

// NotConfigured is the placeholder primary extractor.
type NotConfigured struct{}

func (NotConfigured) Pages(context.Context, []byte) ([]Page, error) {
	return nil, ErrNotConfigured
}

// NoOCR is the placeholder OCR engine.
type NoOCR struct{}

func (NoOCR) Text(context.Context, []byte) (string, error) {
	return "", ErrNotConfigured
}
