package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// PDFCompressor rewrites PDFs with pdfcpu's optimizer (dedupes fonts and
// images, drops unused objects). The output is always a valid PDF.
type PDFCompressor struct{}

// NewPDFCompressor creates a PDF compressor
func NewPDFCompressor() *PDFCompressor {
	// pdfcpu otherwise writes a config dir under the user's home
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFCompressor{}
}

// Name identifies the compressor in logs
func (c *PDFCompressor) Name() string { return "pdf" }

// Compress optimizes content
func (c *PDFCompressor) Compress(_ context.Context, content []byte, _ string) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(content), &out, conf); err != nil {
		return nil, fmt.Errorf("optimize pdf: %w", err)
	}
	return out.Bytes(), nil
}
