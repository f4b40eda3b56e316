package reference

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/spherical/manual-processor/internal/domain"
)

// Write saves the document as dir/<stem>_reference.md and returns its path
func Write(doc Document, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.IOError("create output directory", err)
	}

	out := filepath.Join(dir, doc.FileName)
	if err := os.WriteFile(out, []byte(doc.Markdown), 0o644); err != nil {
		return "", domain.IOError("write reference markdown", err)
	}
	return out, nil
}

// VerifyImageLinks parses markdown and returns the local image destinations
// that do not exist relative to dir. Remote URLs are ignored.
func VerifyImageLinks(markdown, dir string) ([]string, error) {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var missing []string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		img, ok := n.(*ast.Image)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}

		dest := string(img.Destination)
		if u, err := url.Parse(dest); err == nil && u.Scheme != "" {
			return ast.WalkContinue, nil
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(dest))); err != nil {
			missing = append(missing, dest)
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, domain.ConversionError("walk reference markdown", err)
	}

	return missing, nil
}
