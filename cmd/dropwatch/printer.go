package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/dharsanguruparan/dropwatch/internal/model"
)

// printer is the terminal stand-in for the browser widget.
type printer struct {
	mu       sync.Mutex
	out      io.Writer
	lastLine string
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLine = ""
}

func (p *printer) OnProgress(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Pollers repeat the same status every interval.
	if text == p.lastLine {
		return
	}
	p.lastLine = text
	fmt.Fprintf(p.out, "... %s\n", text)
}

func (p *printer) OnResult(r model.NormalizedResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, formatResult(r))
}

func (p *printer) OnError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "error: %s\n", message)
}

// byteFields are metadata keys printed as sizes.
var byteFields = map[string]bool{
	"originalSize":   true,
	"compressedSize": true,
	"size":           true,
	"totalSize":      true,
}

func formatResult(r model.NormalizedResult) string {
	var b strings.Builder
	headline := r.Headline
	if headline == "" {
		headline = "Done"
	}
	if r.Kind != "" {
		fmt.Fprintf(&b, "%s [%s]\n", headline, r.Kind)
	} else {
		fmt.Fprintf(&b, "%s\n", headline)
	}
	if r.Text != "" {
		fmt.Fprintf(&b, "%s\n", r.Text)
	}
	if r.DownloadURL != "" {
		name := r.FileName
		if name == "" {
			name = "download"
		}
		fmt.Fprintf(&b, "  %s: %s\n", name, r.DownloadURL)
	}
	for i, u := range r.DownloadURLs {
		name := fmt.Sprintf("file %d", i+1)
		if i < len(r.FileNames) {
			name = r.FileNames[i]
		}
		fmt.Fprintf(&b, "  %s: %s\n", name, u)
	}
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, formatMeta(k, r.Metadata[k]))
	}
	return b.String()
}

func formatMeta(key string, v any) string {
	n, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	if byteFields[key] && n >= 0 {
		return humanize.Bytes(uint64(n))
	}
	if n == float64(int64(n)) {
		return humanize.Comma(int64(n))
	}
	return humanize.Commaf(n)
}
