package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/disintegration/imaging"
)

const (
	defaultMaxDimension = 2400
	defaultJPEGQuality  = 75
)

// ImageCompressor downscales oversized photos and scans and re-encodes them
type ImageCompressor struct {
	maxDimension int
	jpegQuality  int
}

// NewImageCompressor creates an image compressor. Zero values take defaults.
func NewImageCompressor(maxDimension, jpegQuality int) *ImageCompressor {
	if maxDimension <= 0 {
		maxDimension = defaultMaxDimension
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = defaultJPEGQuality
	}
	return &ImageCompressor{maxDimension: maxDimension, jpegQuality: jpegQuality}
}

// Name identifies the compressor in logs
func (c *ImageCompressor) Name() string { return "image" }

// Compress re-encodes content in its original format
func (c *ImageCompressor) Compress(ctx context.Context, content []byte, mimeType string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() > c.maxDimension || b.Dy() > c.maxDimension {
		img = imaging.Fit(img, c.maxDimension, c.maxDimension, imaging.Lanczos)
	}

	var out bytes.Buffer
	switch mimeType {
	case "image/jpeg":
		err = imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(c.jpegQuality))
	case "image/png":
		err = imaging.Encode(&out, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return nil, fmt.Errorf("unsupported image type %s", mimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return out.Bytes(), nil
}
