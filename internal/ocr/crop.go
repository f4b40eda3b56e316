package ocr

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Crop copies a rectangle of src into a new zero-origin image
func Crop(src image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Intersect(src.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop rectangle outside page")
	}

	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, src, r, draw.Src, nil)
	return dst, nil
}

// EncodePNG encodes an image as PNG bytes
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SavePNG writes an image to path as PNG
func SavePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := png.Encode(w, img); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImageFileName is the deterministic name of the n-th (1-based) crop of a 0-based page
func ImageFileName(pageIndex, n int) string {
	return fmt.Sprintf("page_%03d_image_%d.png", pageIndex+1, n)
}
