package upload

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MimeSniffer detects a MIME type from raw content. The second return
// is false when the implementation cannot detect anything and the
// caller should fall back to the declared type.
type MimeSniffer interface {
	Sniff(data []byte) (string, bool)
}

// ContentSniffer detects the true MIME type from magic bytes.
type ContentSniffer struct{}

func (ContentSniffer) Sniff(data []byte) (string, bool) {
	mt := mimetype.Detect(data)
	// Strip parameters such as "; charset=utf-8" so results compare
	// cleanly against the allow-list.
	detected, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(detected), true
}

// DeclaredOnlySniffer performs no content inspection. Selecting it
// puts the validator in reduced-assurance mode: only the declared type
// is checked against the allow-list.
type DeclaredOnlySniffer struct{}

func (DeclaredOnlySniffer) Sniff([]byte) (string, bool) { return "", false }
