package catalog

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/asgsync/gallery/internal/models"
)

// sniffLimit is how many leading bytes are kept for signature detection.
// mimetype reads at most 3072 bytes.
const sniffLimit = 3072

// sniffer captures the head of a download stream for magic-byte detection.
// The camera server labels some image formats as application/octet-stream,
// so the signature is more trustworthy than the Content-Type header.
type sniffer struct {
	head []byte
}

func newSniffer() *sniffer {
	return &sniffer{head: make([]byte, 0, sniffLimit)}
}

func (s *sniffer) Write(p []byte) (int, error) {
	if len(s.head) < sniffLimit {
		n := sniffLimit - len(s.head)
		if n > len(p) {
			n = len(p)
		}
		s.head = append(s.head, p[:n]...)
	}
	return len(p), nil
}

func (s *sniffer) detect() string {
	if len(s.head) == 0 {
		return ""
	}
	return mimetype.Detect(s.head).String()
}

// resolveMimeType picks the best MIME type for a downloaded file: the
// sniffed signature wins over a generic or missing header, and the filename
// extension is the last resort.
func resolveMimeType(header, sniffed, name string) string {
	header = strings.TrimSpace(strings.Split(header, ";")[0])

	if !genericMime(sniffed) {
		return sniffed
	}
	if !genericMime(header) {
		return header
	}
	if models.IsVideoFilename(name) {
		return "video/mp4"
	}
	return "image/jpeg"
}

func genericMime(m string) bool {
	switch m {
	case "", "application/octet-stream", "binary/octet-stream", "text/plain":
		return true
	}
	return false
}
