package s3storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	at := time.UnixMilli(1714564800123)

	tests := []struct {
		name     string
		fileName string
		want     string
	}{
		{name: "plain name", fileName: "report.pdf", want: "uploads/compress/anon_abc/1714564800123_report.pdf"},
		{name: "strips directories", fileName: "/home/me/report.pdf", want: "uploads/compress/anon_abc/1714564800123_report.pdf"},
		{name: "strips windows directories", fileName: `C:\docs\report.pdf`, want: "uploads/compress/anon_abc/1714564800123_report.pdf"},
		{name: "empty name", fileName: "", want: "uploads/compress/anon_abc/1714564800123_upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey("anon_abc", "compress", tt.fileName, at))
		})
	}
}
