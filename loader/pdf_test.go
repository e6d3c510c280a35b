package loader_test

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample 1x1 PDF for testing (base64 encoded)
const testPDFBase64 = "JVBERi0xLjMKJeLjz9MKMSAwIG9iago8PAovVHlwZSAvQ2F0YWxvZwovT3V0bGluZXMgMiAwIFIKL1BhZ2VzIDMgMCBSCj4+CmVuZG9iagoyIDAgb2JqCjw8Ci9UeXBlIC9PdXRsaW5lcwovQ291bnQgMAo+PgplbmRvYmoKMyAwIG9iago8PAovVHlwZSAvUGFnZXMKL0NvdW50IDEKL0tpZHMgWzQgMCBSXQo+PgplbmRvYmoKNCAwIG9iago8PAovVHlwZSAvUGFnZQovUGFyZW50IDMgMCBSCi9NZWRpYUJveCBbMCAwIDYxMiA3OTJdCi9Db250ZW50cyA1IDAgUgovUmVzb3VyY2VzIDw8Ci9Gb250IDw8Ci9GMSA2IDAgUgo+Pgo+Pgo+PgplbmRvYmoKNSAwIG9iago8PAovTGVuZ3RoIDQ0Cj4+CnN0cmVhbQpCVApxCjcwIDUwIFRECi9GMSAxMiBUZgooSGVsbG8gV29ybGQpIFRqCkVUClEKZW5kc3RyZWFtCmVuZG9iago2IDAgb2JqCjw8Ci9UeXBlIC9Gb250Ci9TdWJ0eXBlIC9UeXBlMQovQmFzZUZvbnQgL0hlbHZldGljYQo+PgplbmRvYmoKeHJlZgowIDcKMDAwMDAwMDAwMCA2NTUzNSBmIAowMDAwMDAwMDE1IDAwMDAwIG4gCjAwMDAwMDAwNzQgMDAwMDAgbiAKMDAwMDAwMDEyMCAwMDAwMCBuIAowMDAwMDAwMTc5IDAwMDAwIG4gCjAwMDAwMDAzNjQgMDAwMDAgbiAKMDAwMDAwMDQ2NiAwMDAwMCBuIAp0cmFpbGVyCjw8Ci9TaXplIDcKL1Jvb3QgMSAwIFIKPj4Kc3RhcnR4cmVmCjU2NQolJUVPRg=="

func writeTestPDF(t *testing.T) string {
	t.Helper()

	pdfData, err := base64.StdEncoding.DecodeString(testPDFBase64)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "hello.pdf")
	require.NoError(t, os.WriteFile(path, pdfData, 0o644))

	return path
}

func TestPDFLoader_Load(t *testing.T) {
	path := writeTestPDF(t)

	docs, err := loader.NewPDFLoader(path).Load(t.Context())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, fmt.Sprintf("%s#page=1", path), doc.SourceID)
	assert.Equal(t, "hello.pdf (page 1)", doc.Title)
	assert.Contains(t, doc.Content, "Hello World")
	assert.Equal(t, "pdf", doc.Metadata["loader"])
	assert.Equal(t, 1, doc.Metadata["page_number"])
	assert.Equal(t, 1, doc.Metadata["total_pages"])
}

func TestPDFLoader_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{
			name:  "empty data",
			input: []byte{},
		},
		{
			name:  "not a pdf",
			input: []byte("not a pdf"),
		},
		{
			name:  "corrupted header",
			input: []byte("%PDF-1.4\ngarbage"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "broken.pdf")
			require.NoError(t, os.WriteFile(path, tt.input, 0o644))

			_, err := loader.NewPDFLoader(path).Load(t.Context())

			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to open PDF")
		})
	}
}

func TestPDFLoader_MissingFile(t *testing.T) {
	_, err := loader.NewPDFLoader(filepath.Join(t.TempDir(), "absent.pdf")).Load(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read PDF data")
}
