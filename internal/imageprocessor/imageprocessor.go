// Package imageprocessor validates uploaded query images before they reach
// the matcher.
package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"

	_ "github.com/spakin/netpbm"

	"github.com/example/faceeval/internal/matcher"
)

// MaxUploadSize bounds a single uploaded image.
const MaxUploadSize = 10 << 20

var (
	// ErrTooLarge is returned for images above MaxUploadSize.
	ErrTooLarge = errors.New("imageprocessor: image exceeds maximum upload size")

	// ErrUnsupportedMediaType is returned for non-image uploads.
	ErrUnsupportedMediaType = errors.New("imageprocessor: unsupported media type")
)

var allowedMediaTypes = map[string]bool{
	"image/jpeg":               true,
	"image/png":                true,
	"image/x-portable-bitmap":  true,
	"image/x-portable-graymap": true,
	"image/x-portable-pixmap":  true,
	"image/x-portable-anymap":  true,
}

var allowedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"pbm":  true,
	"pgm":  true,
	"ppm":  true,
	"pam":  true,
}

// Upload is a validated query image.
type Upload struct {
	Name   string
	Format string
	Width  int
	Height int
	Data   []byte
}

// Image converts the upload into a matcher query.
func (u *Upload) Image() matcher.Image {
	return matcher.Image{Path: u.Name, Data: u.Data}
}

// CheckMediaType accepts the declared media types of supported image formats.
// An empty declaration is allowed; the content decides then.
func CheckMediaType(declared string) error {
	if declared == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !allowedMediaTypes[mediaType] {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, declared)
	}
	return nil
}

// Read consumes at most MaxUploadSize bytes from r and checks that they hold
// a single decodable image of a supported format.
func Read(r io.Reader, name, declared string) (*Upload, error) {
	if err := CheckMediaType(declared); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > MaxUploadSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, name)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", matcher.ErrUndecodable, name, err)
	}
	if !allowedFormats[format] {
		return nil, fmt.Errorf("%w: %s format", ErrUnsupportedMediaType, format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: %s: empty image", matcher.ErrUndecodable, name)
	}

	return &Upload{
		Name:   name,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Data:   data,
	}, nil
}
