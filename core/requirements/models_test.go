package requirements

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplate(t *testing.T) {
	items := DefaultTemplate()
	require.Len(t, items, 6)

	seenIDs := make(map[string]bool)
	seenLabels := make(map[string]bool)
	for _, it := range items {
		assert.False(t, seenIDs[it.ID], "duplicate id %q", it.ID)
		assert.False(t, seenLabels[it.Text], "duplicate label %q", it.Text)
		seenIDs[it.ID] = true
		seenLabels[it.Text] = true
		assert.Nil(t, it.File)
	}
	assert.Equal(t, LetterLabel, items[0].Text)
	assert.Equal(t, letterNote, items[0].Note)
}

func TestItemsFromText(t *testing.T) {
	items := itemsFromText("  Letter of Application \n\nTranscript\nTranscript\n  \nID Card")
	require.Len(t, items, 3)
	assert.Equal(t, LetterLabel, items[0].Text)
	assert.Equal(t, letterNote, items[0].Note, "letter entry gets the addressee note")
	assert.Equal(t, "Transcript", items[1].Text)
	assert.Equal(t, "ID Card", items[2].Text)
	for _, it := range items {
		assert.NotEmpty(t, it.ID)
	}

	assert.Empty(t, itemsFromText("  \n \n"))
}

func TestDataURIRoundTrip(t *testing.T) {
	payload := []byte("%PDF-1.4 pretend pdf content")
	uri := EncodeDataURI("application/pdf", payload)
	assert.True(t, strings.HasPrefix(uri, "data:application/pdf;base64,"))

	ctype, b, err := DecodeDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ctype)
	assert.True(t, bytes.Equal(payload, b))

	_, _, err = DecodeDataURI("https://cdn.test/file.pdf")
	assert.Error(t, err)
	_, _, err = DecodeDataURI("data:application/pdf;base64")
	assert.Error(t, err)
}

func TestFileIsLocal(t *testing.T) {
	local := &File{URL: EncodeDataURI("text/plain", []byte("hi"))}
	remote := &File{ID: "docs/abc", URL: "https://cdn.test/upload/v12/docs/abc.pdf"}
	var missing *File

	assert.True(t, local.IsLocal())
	assert.False(t, remote.IsLocal())
	assert.False(t, missing.IsLocal())
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "clean", in: "transcript.pdf", max: 100, want: "transcript.pdf"},
		{name: "path stripped", in: "../../etc/passwd", max: 100, want: "passwd"},
		{name: "windows path stripped", in: `C:\Users\me\letter.pdf`, max: 100, want: "letter.pdf"},
		{name: "unsafe chars", in: "my report (final)?.pdf", max: 100, want: "my report _final_.pdf"},
		{name: "empty", in: "   ", max: 100, want: "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in, tt.max))
		})
	}

	t.Run("middle truncation keeps extension", func(t *testing.T) {
		long := strings.Repeat("a", 50) + strings.Repeat("b", 50) + ".pdf"
		got := SanitizeFilename(long, 30)
		assert.LessOrEqual(t, len(got), 30+len("…")-1+1) // marker is multi-byte
		assert.True(t, strings.HasSuffix(got, ".pdf"))
		assert.True(t, strings.HasPrefix(got, "aaa"))
		assert.Contains(t, got, "…")
		assert.True(t, strings.Contains(got, "bbb"))
	})
}

func TestPublicIDFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "upload path with version", url: "https://cdn.test/demo/upload/v1612345/reqs/abc123.pdf", want: "reqs/abc123"},
		{name: "upload path no version", url: "https://cdn.test/demo/upload/reqs/abc123.pdf", want: "reqs/abc123"},
		{name: "no upload segment", url: "https://cdn.test/files/abc123.pdf", want: "abc123"},
		{name: "upload with nothing after", url: "https://cdn.test/upload/", want: ""},
		{name: "empty", url: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicIDFromURL(tt.url))
		})
	}
}

func TestUserKey(t *testing.T) {
	assert.Equal(t, "jane@school.test", UserKey("u-1", " Jane@School.Test "))
	assert.Equal(t, "u-1", UserKey("u-1", ""))
	assert.Equal(t, "guest", UserKey("", ""))
}

func TestStripLocalFiles(t *testing.T) {
	local := &File{ID: "local-1", Name: "a.pdf", URL: EncodeDataURI("application/pdf", []byte("x"))}
	remote := &File{ID: "reqs/abc", Name: "b.pdf", URL: "https://cdn.test/upload/reqs/abc.pdf"}
	items := []Item{
		{ID: "1", Text: "A", File: local},
		{ID: "2", Text: "B", File: remote},
		{ID: "3", Text: "C"},
	}

	stripped := stripLocalFiles(items)
	assert.Nil(t, stripped[0].File, "local payloads are not persisted")
	require.NotNil(t, stripped[1].File)
	assert.Equal(t, "reqs/abc", stripped[1].File.ID)
	assert.Nil(t, stripped[2].File)

	// originals untouched
	assert.NotNil(t, items[0].File)
	assert.NotSame(t, items[1].File, stripped[1].File)
}
