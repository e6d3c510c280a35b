package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/engramhq/engram/internal/stringutils"
	"github.com/pkg/errors"
)

type textLoader struct {
	paths []string
}

var _ Loader = (*textLoader)(nil)

// NewTextLoader reads plain text or markdown files, one document per file.
func NewTextLoader(paths ...string) Loader {
	return &textLoader{paths: paths}
}

func (l *textLoader) Load(_ context.Context) ([]Document, error) {
	var docs []Document
	for _, path := range l.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read file %s", path)
		}

		content := strings.TrimSpace(stringutils.Sanitize(string(data)))
		if content == "" {
			continue
		}

		docs = append(docs, Document{
			SourceID: path,
			Title:    filepath.Base(path),
			Content:  content,
			Metadata: map[string]any{
				"loader": "text",
			},
		})
	}

	if len(docs) == 0 {
		return nil, errors.New("no readable content in any of the given files")
	}

	return docs, nil
}
