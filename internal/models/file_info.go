package models

import "time"

// FileInfo represents a raw upload held in storage until it is parsed.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "uploaded" or "parsing"; the record is deleted once parsed
}

// FileRecord is the data store's entry for an uploaded tabular file.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"type"`
	SizeBytes  int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}
