package model

// NormalizedResult is the display-ready outcome of a completed job. Optional
// fields are left empty when the payload does not carry them.
type NormalizedResult struct {
	Kind         string         `json:"kind,omitempty"`
	Headline     string         `json:"headline,omitempty"`
	Text         string         `json:"text,omitempty"`
	DownloadURL  string         `json:"downloadUrl,omitempty"`
	DownloadURLs []string       `json:"downloadUrls,omitempty"`
	FileName     string         `json:"fileName,omitempty"`
	FileNames    []string       `json:"fileNames,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
