package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/engramhq/engram/internal/stringutils"
	"github.com/gen2brain/go-fitz"
	"github.com/pkg/errors"
)

type pdfLoader struct {
	path string
}

var _ Loader = (*pdfLoader)(nil)

// NewPDFLoader extracts page text from a PDF file, one document per page.
// Pages get distinct source IDs so their chunk trees stay independent.
func NewPDFLoader(path string) Loader {
	return &pdfLoader{path: path}
}

func (l *pdfLoader) Load(_ context.Context) ([]Document, error) {
	pdfData, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read PDF data")
	}

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open PDF")
	}
	defer doc.Close()

	pdfMetadata := doc.Metadata()
	title := pdfMetadata["title"]
	if title == "" {
		title = filepath.Base(l.path)
	}

	var docs []Document
	pageCount := doc.NumPage()
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		text, err := doc.Text(pageNum)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to extract text from page %d", pageNum+1)
		}

		content := strings.TrimSpace(stringutils.Sanitize(text))
		if content == "" {
			continue
		}

		metadata := map[string]any{
			"loader":      "pdf",
			"page_number": pageNum + 1,
			"total_pages": pageCount,
		}
		if author := pdfMetadata["author"]; author != "" {
			metadata["author"] = author
		}

		docs = append(docs, Document{
			SourceID: fmt.Sprintf("%s#page=%d", l.path, pageNum+1),
			Title:    fmt.Sprintf("%s (page %d)", title, pageNum+1),
			Content:  content,
			Metadata: metadata,
		})
	}

	if len(docs) == 0 {
		return nil, errors.Errorf("no extractable text found in PDF %s", l.path)
	}

	return docs, nil
}
