package preprocess

import "context"

// Policy is the preprocessing configuration loaded from config/policy.yaml
type Policy struct {
	ThresholdBytes int64              `yaml:"threshold_bytes"`
	Compressors    []CompressorPolicy `yaml:"compressors"`
}

// CompressorPolicy binds a compressor to the MIME types it handles
type CompressorPolicy struct {
	Name         string   `yaml:"name"`
	MimeTypes    []string `yaml:"mime_types"`
	MaxDimension int      `yaml:"max_dimension,omitempty"`
	JPEGQuality  int      `yaml:"jpeg_quality,omitempty"`
}

// Compressor shrinks one family of document types
type Compressor interface {
	Name() string
	Compress(ctx context.Context, content []byte, mimeType string) ([]byte, error)
}
