package core

import (
	"mime"
	"net/url"
	"path/filepath"
	"strings"
)

// Source is one document handed to an engine: a filesystem path, an absolute
// http(s) URL, or raw bytes. Exactly one of Path, URL, Data is set.
type Source struct {
	Label    string
	Path     string
	URL      string
	Data     []byte
	MIMEType string
}

// FromPath builds a path source labelled with the path itself.
func FromPath(path string) Source {
	return Source{Label: path, Path: path}
}

// FromURL builds a URL source labelled with the URL itself.
func FromURL(u string) Source {
	return Source{Label: u, URL: u}
}

// FromBytes builds an in-memory source. label doubles as the file name hint.
func FromBytes(label string, data []byte, mimeType string) Source {
	return Source{Label: label, Data: data, MIMEType: mimeType}
}

// IsURL reports whether s is an http or https URL source.
func (s Source) IsURL() bool {
	return s.URL != ""
}

// Name returns the best file name hint: the path, the URL path, or the label.
func (s Source) Name() string {
	switch {
	case s.Path != "":
		return s.Path
	case s.URL != "":
		if u, err := url.Parse(s.URL); err == nil && u.Path != "" {
			return u.Path
		}
		return s.URL
	default:
		return s.Label
	}
}

// Ext returns the lowercased extension of Name, including the dot.
func (s Source) Ext() string {
	return strings.ToLower(filepath.Ext(s.Name()))
}

// ContentType returns the declared MIME type, falling back to the extension.
// Parameters such as charset are stripped.
func (s Source) ContentType() string {
	ct := s.MIMEType
	if ct == "" {
		ct = mime.TypeByExtension(s.Ext())
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}

// Head returns up to n leading bytes of in-memory data without copying.
func (s Source) Head(n int) []byte {
	if len(s.Data) < n {
		return s.Data
	}
	return s.Data[:n]
}

// IsHTTPURL reports whether raw parses as an absolute http or https URL.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
