package models

import (
	"io"
	"time"
)

// UploadedMedia is the raw payload handed over by the HTTP layer for one run.
type UploadedMedia struct {
	Reader    io.Reader
	FileName  string
	Extension string
	Size      int64
}

// LocalMedia is a fully written scratch copy of an upload.
type LocalMedia struct {
	Path      string    `json:"path"`
	Extension string    `json:"extension"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// RemoteMedia is the provider-issued reference to a registered file.
type RemoteMedia struct {
	Name      string    `json:"name"`
	URI       string    `json:"uri"`
	MIMEType  string    `json:"mime_type"`
	ExpiresAt time.Time `json:"expires_at"`
}
