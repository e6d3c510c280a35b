package config

import (
	"os"

	"github.com/engramhq/engram/errors"
)

type FireCrawlConfig struct {
	// APIKey authorizes the crawl API used by the URL loader.
	// Env: FIRECRAWL_API_KEY
	APIKey string `json:"apiKey,omitempty"`

	// APIUrl overrides the crawl endpoint, e.g. for a self-hosted instance.
	// Default: "https://api.firecrawl.dev", env FIRECRAWL_API_URL
	APIUrl string `json:"apiUrl,omitempty"`
}

func (c *FireCrawlConfig) Validate() error {
	if c.APIKey == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "FIRECRAWL_API_KEY is required for URL ingestion")
	}
	return nil
}

func NewFireCrawlConfig() *FireCrawlConfig {
	config := &FireCrawlConfig{
		APIKey: os.Getenv("FIRECRAWL_API_KEY"),
		APIUrl: os.Getenv("FIRECRAWL_API_URL"),
	}
	if config.APIUrl == "" {
		config.APIUrl = "https://api.firecrawl.dev"
	}
	return config
}
