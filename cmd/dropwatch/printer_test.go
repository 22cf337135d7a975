package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dharsanguruparan/dropwatch/internal/model"
)

func TestFormatResult(t *testing.T) {
	got := formatResult(model.NormalizedResult{
		Kind:         "download",
		Headline:     "Compressed 2 files",
		DownloadURLs: []string{"https://cdn.example/a.pdf", "https://cdn.example/b.pdf"},
		FileNames:    []string{"a.pdf"},
		Metadata: map[string]any{
			"compressedSize": float64(1500000),
			"pages":          float64(12000),
			"ratio":          0.5,
			"engine":         "ghostscript",
		},
	})
	want := "Compressed 2 files [download]\n" +
		"  a.pdf: https://cdn.example/a.pdf\n" +
		"  file 2: https://cdn.example/b.pdf\n" +
		"  compressedSize: 1.5 MB\n" +
		"  engine: ghostscript\n" +
		"  pages: 12,000\n" +
		"  ratio: 0.5\n"
	assert.Equal(t, want, got)
}

func TestFormatResultDefaults(t *testing.T) {
	got := formatResult(model.NormalizedResult{Text: "hello", DownloadURL: "https://cdn.example/x"})
	assert.Equal(t, "Done\nhello\n  download: https://cdn.example/x\n", got)
}

func TestPrinterCollapsesRepeatedProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	p.OnProgress("Queued for processing...")
	p.OnProgress("Queued for processing...")
	p.OnProgress("Processing your files...")
	p.OnError("Processing failed")
	assert.Equal(t, "... Queued for processing...\n... Processing your files...\nerror: Processing failed\n", buf.String())
}
