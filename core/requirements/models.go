package requirements

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kymaka/elimu/core"
)

const (
	// LetterLabel is the one item with a tighter size ceiling and a
	// canned addressee note.
	LetterLabel = "Letter of Application"
	letterNote  = "Addressed to the Dean of Students"

	dataURIPrefix = "data:"
	localIDPrefix = "local-"

	// local store keys
	itemsKeyPrefix = "requirements_items_"
	draftKeySuffix = "_draft"
	legacyItemsKey = "requirements_items"
	legacyTextKey  = "requirements_upload_text"

	// StatusSubmitted marks the registry submission the engine reconciles against.
	StatusSubmitted = "submitted"
)

type (
	// File is a document attached to an Item. Its origin is local iff
	// URL carries a data: URI; remote files hold a registry storage ID
	// and a remote URL.
	File struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name"`
		Size int64  `json:"size"`
		Type string `json:"type"`
		URL  string `json:"url"`
	}

	// Item is a single required document slot.
	Item struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		Note string `json:"note,omitempty"`
		File *File  `json:"file"`
	}

	// Mode is the submission lifecycle state.
	Mode string
)

const (
	ModeDraft           Mode = "draft"
	ModeSubmitting      Mode = "submitting"
	ModeSubmitted       Mode = "submitted"
	ModeResubmitPending Mode = "resubmit_pending"
)

func (f *File) IsLocal() bool {
	return f != nil && strings.HasPrefix(f.URL, dataURIPrefix)
}

// DefaultTemplate returns the canonical ordered document checklist.
func DefaultTemplate() []Item {
	items := []Item{
		{ID: "letter-of-application", Text: LetterLabel},
		{ID: "academic-transcript", Text: "Academic Transcript"},
		{ID: "national-id-or-passport", Text: "National ID or Passport"},
		{ID: "passport-photograph", Text: "Passport Photograph"},
		{ID: "medical-certificate", Text: "Medical Certificate"},
		{ID: "letter-of-recommendation", Text: "Letter of Recommendation"},
	}
	return annotateLetter(items)
}

// annotateLetter attaches the addressee note to the letter item if missing.
func annotateLetter(items []Item) []Item {
	for i := range items {
		if core.CleanString(items[i].Text) == LetterLabel && items[i].Note == "" {
			items[i].Note = letterNote
		}
	}
	return items
}

// itemsFromText seeds a list from newline-delimited labels (legacy import path).
func itemsFromText(text string) []Item {
	var items []Item
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		label := core.CleanString(line)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		items = append(items, Item{ID: uuid.New().String(), Text: label})
	}
	return annotateLetter(items)
}

// EncodeDataURI encodes raw bytes as a base64 data: URI.
func EncodeDataURI(contentType string, b []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return dataURIPrefix + contentType + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// DecodeDataURI reverses EncodeDataURI.
func DecodeDataURI(uri string) (contentType string, b []byte, err error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta := uri[len(dataURIPrefix):]
	sep := strings.Index(meta, ",")
	if sep < 0 {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	contentType = strings.TrimSuffix(meta[:sep], ";base64")
	b, err = base64.StdEncoding.DecodeString(meta[sep+1:])
	if err != nil {
		return "", nil, err
	}
	return contentType, b, nil
}

func newLocalID() string {
	return localIDPrefix + uuid.New().String()
}

var unsafeFilenameChars = regexp.MustCompile(`[^\w.\- ]+`)

// SanitizeFilename strips unsafe characters and middle-truncates names
// longer than max, preserving the extension.
func SanitizeFilename(name string, max int) string {
	name = unsafeFilenameChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "_")
	name = core.CleanString(name)
	if name == "" {
		name = "file"
	}
	if max <= 0 || len(name) <= max {
		return name
	}
	ext := path.Ext(name)
	if len(ext) >= max {
		return name[:max]
	}
	base := name[:len(name)-len(ext)]
	avail := max - len(ext) - 1 // 1 for the "…" marker
	head := avail - avail/2
	tail := avail / 2
	return base[:head] + "…" + base[len(base)-tail:] + ext
}

var urlVersionSegment = regexp.MustCompile(`^v\d+$`)

// PublicIDFromURL recovers a registry storage identifier from a remote
// file URL, e.g. ".../upload/v123/folder/abc123.pdf" -> "folder/abc123".
// Returns "" when no identifier can be resolved.
func PublicIDFromURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil || u.Path == "" {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg != "upload" {
			continue
		}
		rest := segments[i+1:]
		if len(rest) > 0 && urlVersionSegment.MatchString(rest[0]) {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return ""
		}
		id := strings.Join(rest, "/")
		return strings.TrimSuffix(id, path.Ext(id))
	}
	last := segments[len(segments)-1]
	return strings.TrimSuffix(last, path.Ext(last))
}

// UserKey scopes the local store to one user; guests share a fallback key.
func UserKey(id, email string) string {
	if key := core.CleanString(email, true /* lower */); key != "" {
		return key
	}
	if key := core.CleanString(id); key != "" {
		return key
	}
	return "guest"
}

func itemsKey(userKey string) string { return itemsKeyPrefix + userKey }
func draftKey(userKey string) string { return itemsKeyPrefix + userKey + draftKeySuffix }

// stripLocalFiles returns a deep copy with local data: payloads removed;
// this is both the durable snapshot shape and the submit JSON side channel.
func stripLocalFiles(items []Item) []Item {
	stripped := make([]Item, len(items))
	for i, it := range items {
		cp := it
		if it.File != nil {
			if it.File.IsLocal() {
				cp.File = nil
			} else {
				f := *it.File
				cp.File = &f
			}
		}
		stripped[i] = cp
	}
	return stripped
}

func cloneItems(items []Item) []Item {
	cp := make([]Item, len(items))
	for i, it := range items {
		cp[i] = it
		if it.File != nil {
			f := *it.File
			cp[i].File = &f
		}
	}
	return cp
}
