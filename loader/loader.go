// Package loader turns external sources into documents ready for
// chunking and ingestion: plain files, PDFs, crawled websites, and feeds.
package loader

import "context"

type (
	// Document is one ingestable piece of source material. SourceID carries
	// the source identity (path, URL, feed entry GUID) and groups the memory
	// units born from it.
	Document struct {
		SourceID string         `json:"sourceId"`
		Title    string         `json:"title,omitempty"`
		Content  string         `json:"content"`
		Tags     []string       `json:"tags,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// Loader produces documents from one configured source. Loaders fail
	// closed: a source that yields nothing ingestable is an error, not an
	// empty success.
	Loader interface {
		Load(ctx context.Context) ([]Document, error)
	}
)
