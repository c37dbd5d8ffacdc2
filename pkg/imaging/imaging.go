package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gen2brain/webp"
	"github.com/segmentio/ksuid"

	"inkwell/pkg/utils"
)

// MaxUpload is the largest accepted upload in bytes.
const MaxUpload = 10 << 20

const quality = 90

var (
	ErrUnsupported = errors.New("unsupported image type, expected jpeg, png or webp")
	ErrTooLarge    = errors.New("image exceeds upload limit")
)

// Decode reads a jpeg, png or webp image.
func Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUpload+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxUpload {
		return nil, "", ErrTooLarge
	}

	var img image.Image
	mime := http.DetectContentType(data)
	switch mime {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/webp":
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, mime, ErrUnsupported
	}
	if err != nil {
		return nil, mime, fmt.Errorf("failed to decode %s: %w", mime, err)
	}
	return img, mime, nil
}

// ToWebP re-encodes an uploaded image as lossy WebP.
func ToWebP(r io.Reader) ([]byte, error) {
	img, _, err := Decode(r)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Saved describes a stored upload.
type Saved struct {
	Path   string
	Name   string
	Width  int
	Height int
}

// SaveWebP converts r and writes it under dir as "<prefix>-<ksuid>.webp".
func SaveWebP(r io.Reader, dir, prefix string) (Saved, error) {
	data, err := ToWebP(r)
	if err != nil {
		return Saved{}, err
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Saved{}, fmt.Errorf("failed to read webp size: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("failed to create image dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.webp", utils.SanitizeFilename(prefix), ksuid.New().String())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Saved{}, fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return Saved{Path: path, Name: name, Width: cfg.Width, Height: cfg.Height}, nil
}
