package loader_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/engramhq/engram/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock RSS feed data
const mockRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Release Notes</title>
    <link>https://example.com</link>
    <description>Test RSS feed</description>
    <item>
      <title>Adaptive memory ships</title>
      <link>https://example.com/posts/adaptive-memory</link>
      <guid>urn:example:adaptive-memory</guid>
      <description>Short summary.</description>
      <content:encoded><![CDATA[The adaptive memory subsystem is now generally available.]]></content:encoded>
      <pubDate>Mon, 01 Jan 2024 12:00:00 GMT</pubDate>
      <dc:creator>Jane Doe</dc:creator>
      <category>Technology</category>
      <category>AI</category>
    </item>
    <item>
      <title>Maintenance window</title>
      <link>https://example.com/posts/maintenance</link>
      <description>The ingest API pauses for upgrades on Friday.</description>
      <pubDate>Tue, 02 Jan 2024 12:00:00 GMT</pubDate>
      <category>Operations</category>
    </item>
  </channel>
</rss>`

const invalidRSSFeed = `<?xml version="1.0" encoding="UTF-8"?>
<invalid>
  <not-rss>This is not a valid RSS feed</not-rss>
</invalid>`

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(body)); err != nil {
			t.Logf("failed to write response: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func TestFeedLoader_Load(t *testing.T) {
	server := newFeedServer(t, mockRSSFeed)

	docs, err := loader.NewFeedLoader(server.URL).Load(t.Context())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// First entry carries a GUID and full content alongside the summary.
	assert.Equal(t, "urn:example:adaptive-memory", docs[0].SourceID)
	assert.Equal(t, "Adaptive memory ships", docs[0].Title)
	assert.Equal(t, "The adaptive memory subsystem is now generally available.", docs[0].Content)
	assert.Equal(t, []string{"Technology", "AI"}, docs[0].Tags)
	assert.Equal(t, "feed", docs[0].Metadata["loader"])
	assert.Equal(t, "Release Notes", docs[0].Metadata["feed_title"])
	assert.Equal(t, "https://example.com/posts/adaptive-memory", docs[0].Metadata["link"])
	assert.Equal(t, "2024-01-01T12:00:00Z", docs[0].Metadata["published"])
	assert.Equal(t, "Jane Doe", docs[0].Metadata["author"])

	// Second entry has no GUID, so the link identifies it; the description
	// is the only content available.
	assert.Equal(t, "https://example.com/posts/maintenance", docs[1].SourceID)
	assert.Equal(t, "The ingest API pauses for upgrades on Friday.", docs[1].Content)
	assert.Equal(t, []string{"Operations"}, docs[1].Tags)
}

func TestFeedLoader_MultipleFeeds(t *testing.T) {
	first := newFeedServer(t, mockRSSFeed)
	second := newFeedServer(t, mockRSSFeed)

	docs, err := loader.NewFeedLoader(first.URL, second.URL).Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, docs, 4)
}

func TestFeedLoader_InvalidFeed(t *testing.T) {
	server := newFeedServer(t, invalidRSSFeed)

	_, err := loader.NewFeedLoader(server.URL).Load(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse feed")
}

func TestFeedLoader_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	_, err := loader.NewFeedLoader(server.URL).Load(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse feed")
}

func TestFeedLoader_NoEntries(t *testing.T) {
	emptyFeed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Empty Feed</title>
    <link>https://example.com</link>
    <description>Empty RSS feed</description>
  </channel>
</rss>`

	server := newFeedServer(t, emptyFeed)

	_, err := loader.NewFeedLoader(server.URL).Load(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readable entries")
}
