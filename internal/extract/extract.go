package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"filechat/internal/config"
	"filechat/internal/ocr"
)

var (
	// ErrUnsupportedFormat is returned for extensions the extractor does not
	// recognize.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrExtraction is returned for files that cannot be read or parsed.
	// Per-file, recovered: the indexer skips the file and continues.
	ErrExtraction = errors.New("extraction failed")
)

// Page is one page of extracted text. Number is 0-based.
type Page struct {
	Number int
	Text   string
}

// Kind is the extension category of a document.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindTxt  Kind = "txt"
	KindMd   Kind = "md"
	KindDocx Kind = "docx"
)

// KindOf maps a path to its document kind, or "" if unsupported.
func KindOf(path string) Kind {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "pdf":
		return KindPDF
	case "txt":
		return KindTxt
	case "md", "markdown":
		return KindMd
	case "docx":
		return KindDocx
	}
	return ""
}

// Supported reports whether the extractor can handle the file.
func Supported(path string) bool {
	return KindOf(path) != ""
}

// Extractor converts documents into page-scoped text, with OCR fallback for
// PDF pages whose embedded text is too short.
type Extractor struct {
	ocr    ocr.Client
	logger *slog.Logger

	// pdfPages is swapped in tests; it returns raw embedded text per page.
	pdfPages func(path string) ([]string, error)
}

// New creates an Extractor. The OCR client may be nil; OCR is then treated
// as disabled regardless of settings.
func New(ocrClient ocr.Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		ocr:      ocrClient,
		logger:   logger,
		pdfPages: readPDFPages,
	}
}

// Extract returns the ordered pages of a document. Whole-file TXT/MD/DOCX
// content lands on page 0; form feeds in plain text files start new pages.
func (e *Extractor) Extract(ctx context.Context, path string, settings config.IndexSettings) ([]Page, error) {
	switch KindOf(path) {
	case KindPDF:
		return e.extractPDF(ctx, path, settings)
	case KindTxt, KindMd:
		return e.extractPlain(path)
	case KindDocx:
		return e.extractDocx(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

func (e *Extractor) extractPDF(ctx context.Context, path string, settings config.IndexSettings) ([]Page, error) {
	raw, err := e.pdfPages(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
	}

	pages := make([]Page, 0, len(raw))
	for i, text := range raw {
		page := Page{Number: i, Text: cleanText(text)}

		if e.shouldOCR(page.Text, settings) {
			out, ocrErr := e.ocr.Recognize(ctx, ocr.Request{
				Path: path,
				Page: i,
				Lang: settings.OCRLang,
				DPI:  settings.OCRDPI,
			})
			if ocrErr != nil {
				// OCR failure never fails the file; the page just stays as
				// whatever the embedded text gave us.
				e.logger.Warn("ocr failed", "path", path, "page", i, "err", ocrErr)
			} else if cleaned := cleanText(out); cleaned != "" {
				page.Text = cleaned
			}
		}

		pages = append(pages, page)
	}
	return pages, nil
}

func (e *Extractor) shouldOCR(text string, settings config.IndexSettings) bool {
	return settings.OCREnabled && e.ocr != nil && utf8.RuneCountInString(text) < settings.OCRMinChars
}

func (e *Extractor) extractPlain(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
	}
	return splitPages(string(data)), nil
}

// splitPages divides plain text on form feeds, dropping empty segments.
func splitPages(raw string) []Page {
	var pages []Page
	for _, part := range strings.Split(raw, "\f") {
		cleaned := cleanText(part)
		if cleaned == "" {
			continue
		}
		pages = append(pages, Page{Number: len(pages), Text: cleaned})
	}
	return pages
}

// cleanText strips NUL bytes and surrounding whitespace.
func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", " "))
}
