package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ErrFailed marks an OCR run that produced no usable text. The extractor
// recovers at page granularity: the page contributes empty text.
var ErrFailed = errors.New("ocr failed")

// Request identifies one page of a document to recognize. Page is 0-based
// advisory metadata for implementations that render pages from the source
// document themselves; ones that recognize Path as a single image may
// ignore it.
type Request struct {
	Path string
	Page int
	Lang string
	DPI  int
}

// Client is the boundary to the OCR collaborator.
type Client interface {
	Recognize(ctx context.Context, req Request) (string, error)
}

// Tesseract shells out to a tesseract binary, reading recognized text from
// stdout. It recognizes Path as given and does not select pages, so
// Request.Page is ignored. The zero value uses the binary found on PATH.
type Tesseract struct {
	// Bin overrides the tesseract binary path.
	Bin string
	// TessdataDir is passed as --tessdata-dir when set.
	TessdataDir string
}

var _ Client = (*Tesseract)(nil)

func (t *Tesseract) Recognize(ctx context.Context, req Request) (string, error) {
	bin := t.Bin
	if bin == "" {
		bin = "tesseract"
	}

	args := []string{req.Path, "stdout", "-l", req.Lang, "--dpi", strconv.Itoa(req.DPI)}
	if t.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.TessdataDir)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrFailed, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}
