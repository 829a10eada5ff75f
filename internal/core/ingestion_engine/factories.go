package ingestion_engine

import (
	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/registry"
)

// DefaultFactories is the startup engine table. Each key maps to exactly one
// constructor; nothing is built until the registry loads it.
func DefaultFactories(deps *EngineDeps) registry.Factories {
	return registry.Factories{
		"pdf":     func() (core.Extractor, error) { return NewPDFExtractor(deps), nil },
		"docconv": func() (core.Extractor, error) { return NewDocconvExtractor(deps, false), nil },
		"html":    func() (core.Extractor, error) { return NewHTMLExtractor(deps), nil },
		"xlsx":    func() (core.Extractor, error) { return NewXLSXExtractor(deps), nil },
		"text":    func() (core.Extractor, error) { return NewTextExtractor(deps), nil },
		"ndjson":  func() (core.Extractor, error) { return NewNDJSONExtractor(deps), nil },
		"gemini": func() (core.Extractor, error) {
			g, err := NewGeminiExtractor(deps)
			if err != nil {
				return nil, err
			}
			return g, nil
		},
	}
}

// Detect returns the first key in order whose engine claims src. The probe
// order keeps the cheap local engines ahead of the hosted model.
func Detect(probe func(key string) (bool, error), order []string) (string, bool) {
	for _, key := range order {
		ok, err := probe(key)
		if err == nil && ok {
			return key, true
		}
	}
	return "", false
}

// DetectionOrder is the default probe order for Detect.
var DetectionOrder = []string{"pdf", "xlsx", "docconv", "html", "ndjson", "text", "gemini"}
