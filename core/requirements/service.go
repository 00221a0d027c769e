package requirements

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kymaka/elimu/core"
	"github.com/kymaka/elimu/storage/kv"
)

var (
	// errors
	ErrItemNotFound     = errors.New("requirement item not found")
	ErrAlreadySubmitted = core.NewConflictError("requirements already submitted")
	ErrSubmitting       = core.NewConflictError("a submission is already in progress")

	errMissingFile = "this document is required"
	errSubmitFail  = "submission failed, please try again"

	successMsg = "Requirements submitted successfully."
)

type (
	// Session owns one user's requirements state: the checklist, pending
	// raw uploads, staged removals and the submission lifecycle.
	Session struct {
		userKey   string
		userEmail string
		store     kv.Store
		registry  Registry
		logger    core.Logger
		mailSvc   core.EmailService
		conf      *core.Config

		bootOnce sync.Once
		bootErr  error

		mu        sync.Mutex
		items     []Item
		raw       map[string][]byte // itemID -> pending upload bytes; never stored durably
		staged    map[string]string // itemID -> remote public id slated for deletion
		attachSeq map[string]uint64 // itemID -> attach version, guards slow reads
		itemErrs  map[string]string
		formErr   string
		success   string
		mode      Mode
		unsaved   bool
		progress  int

		removalHooks []func(itemID string)
	}

	// State is a point-in-time snapshot of a Session, JSON-ready.
	State struct {
		Items          []Item            `json:"items"`
		Mode           Mode              `json:"mode"`
		ItemErrors     map[string]string `json:"item_errors,omitempty"`
		FormError      string            `json:"form_error,omitempty"`
		Success        string            `json:"success,omitempty"`
		StagedRemovals int               `json:"staged_removals"`
		UnsavedChanges bool              `json:"unsaved_changes"`
		UploadProgress int               `json:"upload_progress"`
	}
)

func NewSession(userKey, userEmail string, store kv.Store, registry Registry, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Session {
	return &Session{
		userKey:   userKey,
		userEmail: userEmail,
		store:     store,
		registry:  registry,
		logger:    logger,
		mailSvc:   mailSvc,
		conf:      conf,
		raw:       make(map[string][]byte),
		staged:    make(map[string]string),
		attachSeq: make(map[string]uint64),
		itemErrs:  make(map[string]string),
		mode:      ModeDraft,
	}
}

// OnRemovalClick registers a hook fired when a remote-file removal is
// requested, before the staging mutation. Observability only.
func (s *Session) OnRemovalClick(fn func(itemID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removalHooks = append(s.removalHooks, fn)
}

// bootstrap runs Bootstrap exactly once per session.
func (s *Session) bootstrap(ctx context.Context) error {
	s.bootOnce.Do(func() { s.bootErr = s.Bootstrap(ctx) })
	return s.bootErr
}

// Bootstrap seeds the item list from the highest-priority local source,
// re-decodes pending local uploads, then reconciles the submitted flag
// and remote file metadata against the registry. The local list governs
// display; the registry governs submitted-ness.
func (s *Session) Bootstrap(ctx context.Context) error {
	s.mu.Lock()

	items, fromDraft := s.loadInitialItems(ctx)
	s.items = annotateLetter(items)
	if fromDraft {
		s.restoreRawFiles()
	}

	s.mu.Unlock()

	// Registry failures degrade to local state only.
	subs, err := s.registry.FetchSubmissions(ctx, s.userKey)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("requirements: fetching submissions: %v", err), err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		if sub.Status != StatusSubmitted {
			continue
		}
		s.reconcileSubmitted(sub)
		break
	}
	return nil
}

// loadInitialItems tries, in priority order: per-user draft, per-user
// snapshot, legacy un-scoped snapshot (migrated in place), legacy text
// import, default template. Malformed JSON falls through, never errors.
func (s *Session) loadInitialItems(ctx context.Context) (items []Item, fromDraft bool) {
	if items, ok := s.readItems(ctx, draftKey(s.userKey)); ok {
		return items, true
	}
	if items, ok := s.readItems(ctx, itemsKey(s.userKey)); ok {
		return items, false
	}
	if items, ok := s.readItems(ctx, legacyItemsKey); ok {
		s.migrateLegacy(ctx, items)
		return items, false
	}
	if text, err := s.store.Get(ctx, legacyTextKey); err == nil && core.CleanString(text) != "" {
		if items := itemsFromText(text); len(items) > 0 {
			return items, false
		}
	}
	return DefaultTemplate(), false
}

func (s *Session) readItems(ctx context.Context, key string) ([]Item, bool) {
	val, err := s.store.Get(ctx, key)
	if err != nil {
		if err != kv.ErrKeyNotFound {
			s.logger.Warn(fmt.Sprintf("requirements: reading %q: %v", key, err), err)
		}
		return nil, false
	}
	var items []Item
	if err := json.Unmarshal([]byte(val), &items); err != nil || len(items) == 0 {
		return nil, false
	}
	return items, true
}

func (s *Session) migrateLegacy(ctx context.Context, items []Item) {
	if b, err := json.Marshal(items); err == nil {
		if err := s.store.Set(ctx, itemsKey(s.userKey), string(b)); err != nil {
			s.logger.Warn(fmt.Sprintf("requirements: migrating legacy snapshot: %v", err), err)
			return
		}
		if err := s.store.Delete(ctx, legacyItemsKey); err != nil {
			s.logger.Warn(fmt.Sprintf("requirements: dropping legacy snapshot: %v", err), err)
		}
	}
}

// restoreRawFiles re-decodes local data: files found in a restored draft
// into the raw map, subject to the same per-item ceilings.
func (s *Session) restoreRawFiles() {
	for i := range s.items {
		it := &s.items[i]
		if !it.File.IsLocal() {
			continue
		}
		_, b, err := DecodeDataURI(it.File.URL)
		if err != nil {
			it.File = nil
			continue
		}
		if int64(len(b)) > s.maxBytesFor(it.Text) {
			it.File = nil
			continue
		}
		s.raw[it.ID] = b
	}
}

func (s *Session) reconcileSubmitted(sub Submission) {
	for i := range s.items {
		label := core.CleanString(s.items[i].Text)
		for _, si := range sub.Items {
			if core.CleanString(si.Label) != label || si.File == nil {
				continue
			}
			f := *si.File
			s.items[i].File = &f
			break
		}
	}
	s.mode = ModeSubmitted
}

func (s *Session) maxBytesFor(label string) int64 {
	if core.CleanString(label) == LetterLabel {
		return s.conf.Requirements.LetterMaxBytes
	}
	return s.conf.Requirements.DefaultMaxBytes
}

// Attach replaces an item's file with a freshly read local upload.
// The read happens outside the session lock; a per-item sequence number
// discards reads whose target was removed or superseded meanwhile.
func (s *Session) Attach(ctx context.Context, itemID, filename, contentType string, size int64, r io.Reader) error {
	s.mu.Lock()
	if _, ok := s.findItem(itemID); !ok {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	limit := s.maxBytesFor(s.labelOf(itemID))
	if size > limit {
		err := s.failAttachLocked(itemID, limit)
		s.mu.Unlock()
		return err
	}
	s.attachSeq[itemID]++
	seq := s.attachSeq[itemID]
	s.mu.Unlock()

	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return errors.Wrap(err, "reading upload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attachSeq[itemID] != seq {
		return nil // superseded by a newer attach; discard
	}
	item, ok := s.findItem(itemID)
	if !ok {
		return nil // item removed while reading; discard
	}
	if int64(len(b)) > limit {
		return s.failAttachLocked(itemID, limit)
	}

	prev := item.File
	item.File = &File{
		ID:   newLocalID(),
		Name: SanitizeFilename(filename, s.conf.Requirements.FilenameMaxLen),
		Size: int64(len(b)),
		Type: contentType,
		URL:  EncodeDataURI(contentType, b),
	}
	s.raw[itemID] = b
	delete(s.itemErrs, itemID)
	s.unsaved = true

	// Replacing a remote file after submission frees the old copy and
	// reopens the form for a resubmit.
	if prev != nil && !prev.IsLocal() && s.mode == ModeSubmitted {
		if publicID := resolvePublicID(prev); publicID != "" {
			s.deleteRemoteFile(publicID)
		}
		s.mode = ModeResubmitPending
	}

	s.persistLocked(ctx)
	return nil
}

func (s *Session) failAttachLocked(itemID string, limit int64) error {
	msg := fmt.Sprintf("file exceeds the %d MB limit", limit>>20)
	s.itemErrs[itemID] = msg
	delete(s.raw, itemID)
	return core.NewValidationError(errors.New(msg), core.FieldError{Field: itemID, Error: msg})
}

// Detach removes an item's file. Local files clear immediately; remote
// files are staged for removal and stay visible until submit finalizes
// or Undo reverts. An unresolvable remote id makes this a no-op: a
// stored file is never dropped without a reversible path.
func (s *Session) Detach(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeSubmitted {
		s.formErr = ErrAlreadySubmitted.Error()
		return ErrAlreadySubmitted
	}
	item, ok := s.findItem(itemID)
	if !ok {
		return ErrItemNotFound
	}
	if item.File == nil {
		return nil
	}

	if item.File.IsLocal() {
		item.File = nil
		delete(s.raw, itemID)
		s.attachSeq[itemID]++ // invalidate in-flight reads
		s.unsaved = true
		s.persistLocked(ctx)
		return nil
	}

	for _, hook := range s.removalHooks {
		hook(itemID)
	}
	publicID := resolvePublicID(item.File)
	if publicID == "" {
		return nil
	}
	s.staged[itemID] = publicID
	s.unsaved = true
	return nil
}

func resolvePublicID(f *File) string {
	if f.ID != "" {
		return f.ID
	}
	return PublicIDFromURL(f.URL)
}

// Undo reverts a staged removal. The file reference was never mutated
// during staging, so restoring display needs no reconstruction.
func (s *Session) Undo(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, itemID)
}

func (s *Session) StagedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// Submit validates the checklist, ships items, pending uploads and staged
// removals to the registry, and on success locks the form.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.mode == ModeSubmitting {
		s.mu.Unlock()
		return ErrSubmitting
	}
	if s.mode == ModeSubmitted {
		s.formErr = ErrAlreadySubmitted.Error()
		s.mu.Unlock()
		return ErrAlreadySubmitted
	}

	if err := s.validateLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	req := SubmitRequest{
		Items:    stripLocalFiles(s.items),
		Resubmit: s.mode == ModeResubmitPending,
		Progress: s.setProgress,
	}
	for _, it := range s.items {
		if b, ok := s.raw[it.ID]; ok && it.File != nil {
			req.Uploads = append(req.Uploads, Upload{
				ItemID:   it.ID,
				Filename: SanitizeFilename(it.File.Name, s.conf.Requirements.FilenameMaxLen),
				Content:  b,
			})
		}
	}
	for _, publicID := range s.staged {
		req.RemovedPublicIDs = append(req.RemovedPublicIDs, publicID)
	}

	prevMode := s.mode
	s.mode = ModeSubmitting
	s.success = ""
	s.mu.Unlock()

	err := s.registry.Submit(ctx, s.userKey, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// keep raw files and staged removals so a retry needs no re-selection
		s.mode = prevMode
		s.formErr = errSubmitFail
		s.success = ""
		return errors.Wrap(err, "submitting requirements")
	}

	if derr := s.store.Delete(ctx, draftKey(s.userKey)); derr != nil && derr != kv.ErrKeyNotFound {
		s.logger.Warn(fmt.Sprintf("requirements: clearing draft: %v", derr), derr)
	}
	s.persistSnapshotLocked(ctx)
	s.raw = make(map[string][]byte)
	s.staged = make(map[string]string)
	s.itemErrs = make(map[string]string)
	s.formErr = ""
	s.success = successMsg
	s.unsaved = false
	s.mode = ModeSubmitted
	s.sendReceipt(prevMode == ModeResubmitPending)
	return nil
}

// validateLocked requires a file on every item and re-checks pending raw
// uploads against their ceilings (stale state defense).
func (s *Session) validateLocked() error {
	errs := make(map[string]string)
	for _, it := range s.items {
		if it.File == nil {
			errs[it.ID] = errMissingFile
		}
	}
	for id, b := range s.raw {
		if _, ok := errs[id]; ok {
			continue
		}
		if limit := s.maxBytesFor(s.labelOf(id)); int64(len(b)) > limit {
			errs[id] = fmt.Sprintf("file exceeds the %d MB limit", limit>>20)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	s.itemErrs = errs
	flds := make([]core.FieldError, 0, len(errs))
	for id, msg := range errs {
		flds = append(flds, core.FieldError{Field: id, Error: msg})
	}
	return core.NewValidationError(errors.New("requirements are incomplete"), flds...)
}

// Reset restores the default template. Rejected once submitted.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeSubmitted {
		s.formErr = ErrAlreadySubmitted.Error()
		return ErrAlreadySubmitted
	}
	s.items = DefaultTemplate()
	s.raw = make(map[string][]byte)
	s.staged = make(map[string]string)
	s.attachSeq = make(map[string]uint64)
	s.itemErrs = make(map[string]string)
	s.formErr = ""
	s.success = ""
	s.unsaved = false
	s.mode = ModeDraft
	s.persistLocked(ctx)
	return nil
}

// ImportText replaces the checklist from newline-delimited labels
// (the legacy text path, kept as a first-class operation).
func (s *Session) ImportText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeSubmitted {
		s.formErr = ErrAlreadySubmitted.Error()
		return ErrAlreadySubmitted
	}
	items := itemsFromText(text)
	if len(items) == 0 {
		return core.NewValidationError(errors.New("no document labels found"),
			core.FieldError{Field: "text", Error: "no document labels found"})
	}
	s.items = items
	s.raw = make(map[string][]byte)
	s.staged = make(map[string]string)
	s.attachSeq = make(map[string]uint64)
	s.itemErrs = make(map[string]string)
	s.unsaved = true
	s.persistLocked(ctx)
	return nil
}

// State returns a snapshot safe for rendering.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemErrs := make(map[string]string, len(s.itemErrs))
	for k, v := range s.itemErrs {
		itemErrs[k] = v
	}
	return State{
		Items:          cloneItems(s.items),
		Mode:           s.mode,
		ItemErrors:     itemErrs,
		FormError:      s.formErr,
		Success:        s.success,
		StagedRemovals: len(s.staged),
		UnsavedChanges: s.unsaved,
		UploadProgress: s.progress,
	}
}

func (s *Session) setProgress(pct int) {
	s.mu.Lock()
	s.progress = pct
	s.mu.Unlock()
}

func (s *Session) findItem(id string) (*Item, bool) {
	for i := range s.items {
		if s.items[i].ID == id {
			return &s.items[i], true
		}
	}
	return nil, false
}

func (s *Session) labelOf(id string) string {
	if it, ok := s.findItem(id); ok {
		return it.Text
	}
	return ""
}

// persistLocked writes the stripped snapshot and the full draft. Store
// failures degrade durability only; they are logged and ignored.
func (s *Session) persistLocked(ctx context.Context) {
	s.persistSnapshotLocked(ctx)
	if b, err := json.Marshal(s.items); err == nil {
		if err := s.store.Set(ctx, draftKey(s.userKey), string(b)); err != nil {
			s.logger.Warn(fmt.Sprintf("requirements: persisting draft: %v", err), err)
		}
	}
}

func (s *Session) persistSnapshotLocked(ctx context.Context) {
	if b, err := json.Marshal(stripLocalFiles(s.items)); err == nil {
		if err := s.store.Set(ctx, itemsKey(s.userKey), string(b)); err != nil {
			s.logger.Warn(fmt.Sprintf("requirements: persisting snapshot: %v", err), err)
		}
	}
}

// deleteRemoteFile runs a detached best-effort delete with bounded retry.
// Failures are logged, never surfaced.
func (s *Session) deleteRemoteFile(publicID string) {
	go func() {
		var err error
		for attempt := 1; attempt <= 3; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			var destroyed bool
			destroyed, err = s.registry.DeleteFile(ctx, publicID)
			cancel()
			if err == nil {
				if !destroyed {
					s.logger.Info(fmt.Sprintf("requirements: file %q not destroyed", publicID))
				}
				return
			}
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		s.logger.Warn(fmt.Sprintf("requirements: deleting file %q: %v", publicID, err), err)
	}()
}

func (s *Session) sendReceipt(resubmit bool) {
	if s.mailSvc == nil || s.userEmail == "" {
		return
	}
	subject := "Requirements received"
	if resubmit {
		subject = "Updated requirements received"
	}
	body := "Your document requirements have been received:\n"
	for _, it := range s.items {
		body += "  - " + it.Text + "\n"
	}
	s.mailSvc.SendMessages(&core.EmailMessage{
		To:          []mail.Address{{Address: s.userEmail}},
		Subject:     subject,
		TextContent: body,
	})
}
