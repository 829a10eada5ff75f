package ingestion_engine

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/Extracta/internal/core"
)

var (
	magicPDF = []byte("%PDF-")
	magicZIP = []byte{0x50, 0x4B, 0x03, 0x04}
	magicPNG = []byte{0x89, 'P', 'N', 'G'}
	magicJPG = []byte{0xFF, 0xD8, 0xFF}
)

// hasExt reports whether src's name ends with one of exts.
func hasExt(src core.Source, exts ...string) bool {
	ext := src.Ext()
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// hasType reports whether src declares (or its extension implies) one of types.
func hasType(src core.Source, types ...string) bool {
	ct := src.ContentType()
	for _, t := range types {
		if ct == t {
			return true
		}
	}
	return false
}

func looksLikePDF(head []byte) bool {
	return bytes.HasPrefix(head, magicPDF)
}

func looksLikeZIP(head []byte) bool {
	return bytes.HasPrefix(head, magicZIP)
}

func looksLikeHTML(head []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(head)))
	return strings.HasPrefix(s, "<!doctype html") || strings.HasPrefix(s, "<html")
}

// sniffMIME guesses a MIME type for in-memory data when nothing was declared.
func sniffMIME(src core.Source) string {
	if ct := src.ContentType(); ct != "" {
		return ct
	}
	head := src.Head(512)
	switch {
	case looksLikePDF(head):
		return "application/pdf"
	case bytes.HasPrefix(head, magicPNG):
		return "image/png"
	case bytes.HasPrefix(head, magicJPG):
		return "image/jpeg"
	case looksLikeHTML(head):
		return "text/html"
	case utf8.Valid(head):
		return "text/plain"
	}
	return "application/octet-stream"
}
