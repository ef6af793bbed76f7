package database

import "time"

// Attachment is the persisted metadata record for a stored file.
type Attachment struct {
	ID               int64
	TaskID           int64
	Filename         string // stored name (UUID + extension)
	OriginalFilename string
	FilePath         string
	FileSize         int64
	MimeType         string
	SHA256           string
	UploadedBy       int64
	CreatedAt        time.Time
}
