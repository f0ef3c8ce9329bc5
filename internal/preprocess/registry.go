// Package preprocess shrinks uploaded documents before they are stored.
package preprocess

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gopkg.in/yaml.v3"
	"notehub/internal/config"
	"notehub/internal/domain/services"
)

//go:embed config/*.yaml
var configFiles embed.FS

type route struct {
	mimeTypes  []string
	compressor Compressor
}

// Registry routes documents to compressors by MIME type. It implements
// services.Preprocessor and never fails: any problem yields the input.
type Registry struct {
	threshold int64
	routes    []route
	logger    *slog.Logger
}

var _ services.Preprocessor = (*Registry)(nil)

// LoadPolicy reads the embedded default policy
func LoadPolicy() (*Policy, error) {
	data, err := configFiles.ReadFile("config/policy.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return &policy, nil
}

// NewRegistry builds a registry from the embedded policy
func NewRegistry(logger *slog.Logger) (*Registry, error) {
	policy, err := LoadPolicy()
	if err != nil {
		return nil, err
	}
	return NewRegistryWithPolicy(policy, logger)
}

// NewRegistryWithPolicy builds a registry from policy
func NewRegistryWithPolicy(policy *Policy, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		threshold: policy.ThresholdBytes,
		logger:    logger.With("component", "preprocess"),
	}
	if r.threshold <= 0 {
		r.threshold = config.DefaultCompressThresholdBytes
	}

	for _, cp := range policy.Compressors {
		var c Compressor
		switch cp.Name {
		case "pdf":
			c = NewPDFCompressor()
		case "image":
			c = NewImageCompressor(cp.MaxDimension, cp.JPEGQuality)
		default:
			return nil, fmt.Errorf("unknown compressor %q in policy", cp.Name)
		}
		r.Register(c, cp.MimeTypes...)
	}
	return r, nil
}

// Register appends a compressor for mimeTypes; earlier registrations win
func (r *Registry) Register(c Compressor, mimeTypes ...string) {
	r.routes = append(r.routes, route{mimeTypes: mimeTypes, compressor: c})
}

// Process returns a smaller rendition of content when one can be made
func (r *Registry) Process(ctx context.Context, content []byte, mimeType string, opts services.PreprocessOptions) services.PreprocessResult {
	mimeType = r.detect(content, mimeType)
	original := services.PreprocessResult{Content: content, MimeType: mimeType}

	if opts.Skip {
		return original
	}
	threshold := opts.ThresholdBytes
	if threshold <= 0 {
		threshold = r.threshold
	}
	if int64(len(content)) <= threshold {
		return original
	}

	c := r.lookup(mimeType)
	if c == nil {
		return original
	}
	if ctx.Err() != nil {
		return original
	}

	out, err := r.run(ctx, c, content, mimeType)
	if err != nil {
		r.logger.Warn("compression failed, keeping original",
			"compressor", c.Name(),
			"mime_type", mimeType,
			"size_bytes", len(content),
			"error", err,
		)
		return original
	}
	if ctx.Err() != nil {
		return original
	}
	if len(out) == 0 || len(out) >= len(content) {
		r.logger.Debug("compression did not shrink document",
			"compressor", c.Name(),
			"size_bytes", len(content),
			"compressed_bytes", len(out),
		)
		return original
	}

	r.logger.Info("document compressed",
		"compressor", c.Name(),
		"mime_type", mimeType,
		"size_bytes", len(content),
		"compressed_bytes", len(out),
	)
	return services.PreprocessResult{Content: out, MimeType: mimeType, Transformed: true}
}

// run isolates third-party decoders: malformed input may panic
func (r *Registry) run(ctx context.Context, c Compressor, content []byte, mimeType string) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("compressor panic: %v", rec)
		}
	}()
	return c.Compress(ctx, content, mimeType)
}

func (r *Registry) lookup(mimeType string) Compressor {
	for _, rt := range r.routes {
		for _, mt := range rt.mimeTypes {
			if mt == mimeType {
				return rt.compressor
			}
		}
	}
	return nil
}

// detect trusts a specific declared type and sniffs otherwise
func (r *Registry) detect(content []byte, declared string) string {
	declared = normalizeMime(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return normalizeMime(mimetype.Detect(content).String())
}

func normalizeMime(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
