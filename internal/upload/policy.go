package upload

import "strings"

const (
	// DefaultMaxFileSize is the hard per-file ceiling before any
	// category rule applies.
	DefaultMaxFileSize = 10 << 20

	// Category ceilings, checked against the detected (or declared)
	// MIME type after the file is on disk.
	maxImageSize    = 5 << 20
	maxVideoSize    = 50 << 20
	maxAudioSize    = 20 << 20
	maxArchiveSize  = 25 << 20
	maxDocumentSize = 10 << 20
)

// RateLimits holds the five sliding-window thresholds enforced per
// uploader identity.
type RateLimits struct {
	UploadsPerMinute int
	UploadsPerHour   int
	UploadsPerDay    int
	BytesPerHour     int64
	BytesPerDay      int64
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		UploadsPerMinute: 10,
		UploadsPerHour:   50,
		UploadsPerDay:    200,
		BytesPerHour:     100 << 20,
		BytesPerDay:      500 << 20,
	}
}

// Policy is the immutable rule set the validator runs against. Build
// one at startup with DefaultPolicy and override from configuration.
type Policy struct {
	MaxFileSize       int64
	AllowedExtensions map[string]struct{}
	BlockedExtensions map[string]struct{}
	AllowedMIMETypes  map[string]struct{}
}

func DefaultPolicy() *Policy {
	return &Policy{
		MaxFileSize:       DefaultMaxFileSize,
		AllowedExtensions: toSet(defaultAllowedExtensions),
		BlockedExtensions: toSet(defaultBlockedExtensions),
		AllowedMIMETypes:  toSet(defaultAllowedMIMETypes),
	}
}

func (p *Policy) ExtensionAllowed(ext string) bool {
	_, ok := p.AllowedExtensions[strings.ToLower(ext)]
	return ok
}

func (p *Policy) ExtensionBlocked(ext string) bool {
	_, ok := p.BlockedExtensions[strings.ToLower(ext)]
	return ok
}

func (p *Policy) MIMEAllowed(mime string) bool {
	_, ok := p.AllowedMIMETypes[mime]
	return ok
}

// MaxSizeFor returns the byte ceiling for a MIME type based on its
// broad category.
func (p *Policy) MaxSizeFor(mime string) int64 {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return maxImageSize
	case strings.HasPrefix(mime, "video/"):
		return maxVideoSize
	case strings.HasPrefix(mime, "audio/"):
		return maxAudioSize
	case isArchiveMIME(mime):
		return maxArchiveSize
	case isDocumentMIME(mime):
		return maxDocumentSize
	}
	return maxDocumentSize
}

func isArchiveMIME(mime string) bool {
	switch mime {
	case "application/zip", "application/x-rar-compressed", "application/x-7z-compressed",
		"application/x-tar", "application/gzip":
		return true
	}
	return false
}

func isDocumentMIME(mime string) bool {
	for _, marker := range []string{"pdf", "document", "spreadsheet", "presentation"} {
		if strings.Contains(mime, marker) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}

var defaultAllowedExtensions = []string{
	// Documents
	".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt",
	// Images
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp",
	// Spreadsheets
	".xls", ".xlsx", ".csv", ".ods",
	// Presentations
	".ppt", ".pptx", ".odp",
	// Archives
	".zip", ".rar", ".7z", ".tar", ".gz",
	// Code
	".py", ".js", ".html", ".css", ".json", ".xml", ".sql",
	// Media
	".mp4", ".avi", ".mov", ".wmv", ".mp3", ".wav", ".flac",
}

var defaultBlockedExtensions = []string{
	".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".vbs",
	".jar", ".class", ".php", ".asp", ".aspx", ".jsp", ".pl",
	".sh", ".ps1", ".dll", ".sys", ".drv", ".ocx", ".cpl", ".msi",
}

var defaultAllowedMIMETypes = []string{
	// Documents
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
	"text/rtf",
	"application/vnd.oasis.opendocument.text",
	// Images
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/svg+xml",
	"image/webp",
	// Spreadsheets
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/csv",
	"application/vnd.oasis.opendocument.spreadsheet",
	// Presentations
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.presentation",
	// Archives
	"application/zip",
	"application/x-rar-compressed",
	"application/x-7z-compressed",
	"application/x-tar",
	"application/gzip",
	// Code
	"text/x-python",
	"application/javascript",
	"text/html",
	"text/css",
	"application/json",
	"application/xml",
	"text/x-sql",
	// Media
	"video/mp4",
	"video/avi",
	"video/quicktime",
	"video/x-ms-wmv",
	"audio/mpeg",
	"audio/wav",
	"audio/flac",
}
