package parsing

import (
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"receipt-pipeline/server/internal/errors"
)

// TextExtractor pulls text out of a PDF page range. StructuredTextExtractor
// covers the fast, text-layer case; a layout-aware or OCR-backed extractor
// can be plugged in behind the same interface without the cascade caring
// which one ran. No OCR/rasterization library exists anywhere in the
// example corpus this module was built from, so only the structured-text
// stage is implemented; OCR is left as a TextExtractor slot for a future
// wiring rather than faked with a stub that always returns empty text.
type TextExtractor interface {
	ExtractText(path string, maxPages int) (string, error)
}

// StructuredTextExtractor reads the PDF's embedded text layer via
// ledongthuc/pdf. It is the cascade's first and cheapest PDF stage.
type StructuredTextExtractor struct{}

func (StructuredTextExtractor) ExtractText(path string, maxPages int) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", errors.New(errors.ParseFailure, "failed to open pdf: "+err.Error())
	}
	defer f.Close()

	var b strings.Builder
	pages := r.NumPage()
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	return b.String(), nil
}

// RenderPagesBase64 renders the PDF's first n pages to PNG and base64-encodes
// them, for the vision fallback stage. Rasterization (e.g. to 150dpi PNG) has
// no available library in this module's dependency corpus; this is recorded
// as an open gap in DESIGN.md rather than faked with a fabricated dependency.
// Implementations that do have a renderer available plug in here.
type PageRenderer interface {
	RenderPagesBase64(path string, maxPages int, dpi int) ([]string, error)
}

// NullPageRenderer always reports VisionUnavailable; it is the default until
// a real rasterizer is wired in, and matches the spec's requirement that the
// vision stage fail cleanly (not panic) when unconfigured.
type NullPageRenderer struct{}

func (NullPageRenderer) RenderPagesBase64(path string, maxPages int, dpi int) ([]string, error) {
	return nil, errors.New(errors.VisionUnavailable, "PDF page rendering is not configured")
}

// ReadFileSize reports the size of a file on disk, returning NotFound if it
// is missing. Nothing in this module calls it.
func ReadFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.New(errors.NotFound, "downloaded file missing: "+err.Error())
	}
	return info.Size(), nil
}
