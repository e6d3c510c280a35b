package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/internal/stringutils"
	firecrawl "github.com/mendableai/firecrawl-go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// URLOptions tune the website crawl backing a URL loader.
type URLOptions struct {
	MaxDepth int `mapstructure:"maxDepth"`
	Limit    int `mapstructure:"limit"`
}

type urlLoader struct {
	conf   *config.FireCrawlConfig
	url    string
	opts   URLOptions
	logger *slog.Logger
}

var _ Loader = (*urlLoader)(nil)

// NewURLLoader crawls a website through FireCrawl, one document per crawled
// page. rawOpts may carry URLOptions fields and defaults to a shallow crawl.
func NewURLLoader(conf *config.FireCrawlConfig, url string, rawOpts map[string]any, logger *slog.Logger) (Loader, error) {
	var opts URLOptions
	if err := mapstructure.Decode(rawOpts, &opts); err != nil {
		return nil, errors.WithStack(err)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	return &urlLoader{
		conf:   conf,
		url:    url,
		opts:   opts,
		logger: logger,
	}, nil
}

func (l *urlLoader) Load(_ context.Context) ([]Document, error) {
	if err := l.conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "FireCrawl configuration is invalid - check FIRECRAWL_API_KEY environment variable")
	}

	client, err := firecrawl.NewFirecrawlApp(l.conf.APIKey, l.conf.APIUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create FireCrawl client")
	}

	l.logger.Info("Starting to crawl website", "url", l.url, "maxDepth", l.opts.MaxDepth, "limit", l.opts.Limit)
	startTime := time.Now()

	// CrawlURL is synchronous and polls internally.
	crawlResult, err := client.CrawlURL(l.url, &firecrawl.CrawlParams{
		MaxDepth: &l.opts.MaxDepth,
		Limit:    &l.opts.Limit,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to crawl URL: %s", l.url)
	}

	if crawlResult.Status == "failed" {
		return nil, errors.Errorf("crawl failed for URL: %s", l.url)
	}

	l.logger.Info("Crawl completed", "url", l.url, "duration", time.Since(startTime), "pagesFound", len(crawlResult.Data))

	var docs []Document
	for pageIdx, page := range crawlResult.Data {
		pageURL := ""
		pageTitle := ""
		if page.Metadata != nil {
			if page.Metadata.SourceURL != nil && *page.Metadata.SourceURL != "" {
				pageURL = *page.Metadata.SourceURL
			}
			if page.Metadata.Title != nil && *page.Metadata.Title != "" {
				pageTitle = *page.Metadata.Title
			}
		}

		markdownContent := page.Markdown
		if markdownContent == "" {
			markdownContent = page.HTML
		}

		content := strings.TrimSpace(stringutils.Sanitize(markdownContent))
		if content == "" {
			continue
		}

		sourceID := pageURL
		if sourceID == "" {
			sourceID = fmt.Sprintf("%s#page=%d", l.url, pageIdx)
		}

		docs = append(docs, Document{
			SourceID: sourceID,
			Title:    pageTitle,
			Content:  content,
			Metadata: map[string]any{
				"loader":     "url",
				"crawl_root": l.url,
				"page_index": pageIdx,
				"crawled_at": time.Now().Format(time.RFC3339),
			},
		})
	}

	if len(docs) == 0 {
		return nil, errors.Errorf("no content retrieved from URL: %s", l.url)
	}

	return docs, nil
}
