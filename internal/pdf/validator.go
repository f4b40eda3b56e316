package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/spherical/manual-processor/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// Validator provides input validation for uploaded PDF files
type Validator struct {
	maxSize int64
}

// NewValidator creates a new validator; maxSize <= 0 disables the size limit
func NewValidator(maxSize int64) *Validator {
	return &Validator{maxSize: maxSize}
}

// SanitizeFilename strips directories and replaces spaces so the name is safe
// to use inside a job directory.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return name
}

// ValidateFilename checks that an upload name is usable and carries a .pdf extension
func (v *Validator) ValidateFilename(name string) error {
	if SanitizeFilename(name) == "" {
		return domain.ValidationError("filename is required", nil)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}
	return nil
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	if info.Size() == 0 {
		return domain.ValidationError("file is empty", nil)
	}

	if v.maxSize > 0 && info.Size() > v.maxSize {
		return domain.ValidationError(fmt.Sprintf("file is too large (%d MB, limit %d MB)", info.Size()>>20, v.maxSize>>20), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	header := make([]byte, 1024)
	n, _ := io.ReadFull(file, header)
	if !bytes.Contains(header[:n], pdfMagic) {
		return domain.ValidationError("file does not look like a PDF", nil)
	}

	return nil
}

// PageCount parses the document structure with pdfcpu and returns its page count.
// Relaxed validation is used since scanned manuals are often slightly malformed.
func (v *Validator) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, domain.IOError("cannot open PDF", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		return 0, domain.ValidationError("failed to read PDF structure", err)
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return 0, domain.ValidationError("failed to determine page count", err)
	}

	if ctx.PageCount == 0 {
		return 0, domain.ValidationError("PDF has no pages", nil)
	}

	return ctx.PageCount, nil
}
