package model

import "time"

// UploadedFile is produced by the upload client after a successful PUT. It is
// immutable and lives only for the duration of one batch.
type UploadedFile struct {
	StorageKey   string    `json:"storageKey"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    uint64    `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// CompletedAt returns the latest upload timestamp of the batch, or the zero
// time for an empty batch.
func CompletedAt(batch []UploadedFile) time.Time {
	var last time.Time
	for _, f := range batch {
		if f.UploadedAt.After(last) {
			last = f.UploadedAt
		}
	}
	return last
}

// StorageKeys lists the keys of the batch in upload order.
func StorageKeys(batch []UploadedFile) []string {
	keys := make([]string, 0, len(batch))
	for _, f := range batch {
		keys = append(keys, f.StorageKey)
	}
	return keys
}
