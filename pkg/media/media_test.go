package media

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanreach/offlinesync/internal/config"
	"github.com/oceanreach/offlinesync/pkg/types"
)

func testMirror() *Mirror {
	return &Mirror{
		master: &storeHandle{baseURL: "https://master.example.com", cfg: config.StoreConfig{UploadPath: "uploads"}},
		local:  &storeHandle{baseURL: "http://local-store", cfg: config.StoreConfig{}},
	}
}

func TestCanonicalObjectPath_UsesHashAndExtension(t *testing.T) {
	f := &types.FileRecord{Hash: "abc123", Ext: ".jpg"}
	assert.Equal(t, "abc123.jpg", canonicalObjectPath(f))
}

func TestCanonicalObjectPath_IncludesFolderPath(t *testing.T) {
	f := &types.FileRecord{Hash: "abc123", Ext: ".jpg", FolderPath: "/uploads/2026"}
	assert.Equal(t, "uploads/2026/abc123.jpg", canonicalObjectPath(f))
}

func TestUrlToObjectPath_RoundTripsWithGetOssUrl(t *testing.T) {
	m := testMirror()
	path := "abc123.jpg"
	got, ok := m.urlToObjectPath(m.getOssUrl(path))
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestUrlToObjectPath_RoundTripsWithGetMinioUrl(t *testing.T) {
	m := testMirror()
	path := "abc123.jpg"
	got, ok := m.urlToObjectPath(m.getMinioUrl(path))
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestRewritePayloadURLs_RoundTripsBothDirections(t *testing.T) {
	m := testMirror()
	m.transformURLs = true
	original := json.RawMessage(`{"image":"https://master.example.com/uploads/abc123.jpg"}`)

	toLocal, err := m.RewritePayloadURLs(original)
	require.NoError(t, err)
	assert.Contains(t, string(toLocal), "http://local-store/abc123.jpg")

	// Rewriting back from local to master should reproduce the original.
	path, ok := m.urlToObjectPath(`http://local-store/abc123.jpg`)
	require.True(t, ok)
	assert.Equal(t, m.getOssUrl(path), "https://master.example.com/uploads/abc123.jpg")
}

func TestExtractFileIDs_FindsNestedAndArrayReferences(t *testing.T) {
	payload := json.RawMessage(`{
		"title": "hello",
		"hero": {"fileId": "file-1"},
		"gallery": {"fileIds": ["file-2", "file-3"]},
		"nested": {"deeper": {"fileId": "file-1"}}
	}`)
	ids, err := ExtractFileIDs(payload)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"file-1", "file-2", "file-3"}, ids)
}

func TestExtractFileIDs_EmptyPayload(t *testing.T) {
	ids, err := ExtractFileIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLooksLikeMasterURL(t *testing.T) {
	assert.True(t, looksLikeMasterURL("https://master.example.com/uploads/a.png", "https://master.example.com"))
	assert.False(t, looksLikeMasterURL("https://other.example.com/uploads/a.png", "https://master.example.com"))
}
