package loader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/stringutils"
	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
)

const feedReadTimeout = 30 * time.Second

type feedLoader struct {
	urls   []string
	parser *gofeed.Parser
}

var _ Loader = (*feedLoader)(nil)

// NewFeedLoader reads RSS or Atom feeds, one document per feed entry.
func NewFeedLoader(urls ...string) Loader {
	return &feedLoader{
		urls:   urls,
		parser: gofeed.NewParser(),
	}
}

func (l *feedLoader) Load(ctx context.Context) ([]Document, error) {
	var docs []Document
	for _, url := range l.urls {
		entries, err := l.readFeed(ctx, url)
		if err != nil {
			return nil, err
		}
		docs = append(docs, entries...)
	}

	if len(docs) == 0 {
		return nil, errors.New("no readable entries in any of the given feeds")
	}

	return docs, nil
}

func (l *feedLoader) readFeed(ctx context.Context, feedURL string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, feedReadTimeout)
	defer cancel()

	feed, err := l.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse feed %s", feedURL)
	}

	var docs []Document
	for itemIdx, item := range feed.Items {
		raw := item.Content
		if raw == "" {
			raw = item.Description
		}

		content := strings.TrimSpace(stringutils.Sanitize(raw))
		if content == "" {
			continue
		}

		sourceID := item.GUID
		if sourceID == "" {
			sourceID = item.Link
		}
		if sourceID == "" {
			sourceID = fmt.Sprintf("%s#item=%d", feedURL, itemIdx)
		}

		metadata := map[string]any{
			"loader":     "feed",
			"feed_title": feed.Title,
			"feed_link":  feed.Link,
		}
		if item.Link != "" {
			metadata["link"] = item.Link
		}
		if item.PublishedParsed != nil {
			metadata["published"] = item.PublishedParsed.Format(time.RFC3339)
		}
		if item.Author != nil && item.Author.Name != "" {
			metadata["author"] = item.Author.Name
		}

		docs = append(docs, Document{
			SourceID: sourceID,
			Title:    item.Title,
			Content:  content,
			Tags:     item.Categories,
			Metadata: metadata,
		})
	}

	return docs, nil
}
