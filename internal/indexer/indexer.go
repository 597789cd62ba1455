// Package indexer uploads episode transcripts and podcast descriptions
// to a grounded-generation document store so that chat retrieval can
// cite them later (spec §4.F).
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DocumentStore is the capability interface over the grounded-generation
// backend; the concrete provider is a collaborator (spec §1 Non-goals).
type DocumentStore interface {
	// CreateOrGetStore finds or creates the single store keyed by
	// displayName and returns its resource identifier.
	CreateOrGetStore(ctx context.Context, storeDisplayName string) (string, error)
	// UploadText starts an async upload of text tagged with metadata
	// and returns an operation name to poll.
	UploadText(ctx context.Context, storeName, text, displayName string, tags map[string]string) (operationName string, err error)
	// PollOperation returns (done, resourceName, error). error is the
	// operation's terminal error, if any; a nil error with done=true
	// means success.
	PollOperation(ctx context.Context, operationName string) (done bool, resourceName string, err error)
}

const defaultUploadPollTimeout = 5 * time.Minute

// DocType distinguishes the two symmetric upload paths (spec §4.F).
type DocType string

const (
	DocTypeTranscript  DocType = "transcript"
	DocTypeDescription DocType = "description"
)

// Tags carries the structured metadata attached to an uploaded document.
type Tags struct {
	Type        DocType
	Podcast     string
	Episode     string
	ReleaseDate string
	Hosts       []string
	Guests      []string
	Keywords    []string
	Summary     string
}

// flatten renders a tag map: lists become comma-separated strings, every
// value is unicode-normalized and truncated to 255 characters.
func (t Tags) flatten() map[string]string {
	m := map[string]string{"type": string(t.Type)}
	if t.Podcast != "" {
		m["podcast"] = clean(t.Podcast)
	}
	if t.Episode != "" {
		m["episode"] = clean(t.Episode)
	}
	if t.ReleaseDate != "" {
		m["release_date"] = clean(t.ReleaseDate)
	}
	if len(t.Hosts) > 0 {
		m["hosts"] = clean(strings.Join(t.Hosts, ", "))
	}
	if len(t.Guests) > 0 {
		m["guests"] = clean(strings.Join(t.Guests, ", "))
	}
	if len(t.Keywords) > 0 {
		m["keywords"] = clean(strings.Join(t.Keywords, ", "))
	}
	if t.Summary != "" {
		m["summary"] = clean(t.Summary)
	}
	return m
}

var unicodeReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", "\"", "”", "\"",
	"–", "-", "—", "-",
	"…", "...",
)

// clean normalizes curly quotes/dashes/ellipsis to ASCII and truncates
// to 255 characters, the upload tag limit (spec §4.F).
func clean(s string) string {
	s = unicodeReplacer.Replace(s)
	if n := len([]rune(s)); n > 255 {
		r := []rune(s)
		s = string(r[:255])
	}
	return strings.TrimFunc(s, unicode.IsSpace)
}

// Indexer uploads transcript/description text idempotently, caching the
// set of display_names it has already seen so repeat uploads are cheap
// (spec §4.F idempotency, scenario S6).
type Indexer struct {
	store           DocumentStore
	storeName       string
	storeDisplayName string
	pollTimeout     time.Duration

	mu    sync.Mutex
	seen  map[string]string // display_name -> resource_name
}

// New constructs an Indexer bound to storeDisplayName; the backing store
// resource is created lazily on first use via CreateOrGetStore.
func New(store DocumentStore, storeDisplayName string) *Indexer {
	return &Indexer{
		store:            store,
		storeDisplayName: storeDisplayName,
		pollTimeout:      defaultUploadPollTimeout,
		seen:             make(map[string]string),
	}
}

// ensureStore lazily resolves the backing store resource name.
func (ix *Indexer) ensureStore(ctx context.Context) (string, error) {
	ix.mu.Lock()
	name := ix.storeName
	ix.mu.Unlock()
	if name != "" {
		return name, nil
	}
	name, err := ix.store.CreateOrGetStore(ctx, ix.storeDisplayName)
	if err != nil {
		return "", fmt.Errorf("indexer: create or get store: %w", err)
	}
	ix.mu.Lock()
	ix.storeName = name
	ix.mu.Unlock()
	return name, nil
}

// MarkKnown registers a display_name as already uploaded, e.g. loaded
// from the repository's resource_name column at startup, so Upload can
// skip re-uploading it within this process's lifetime.
func (ix *Indexer) MarkKnown(displayName, resourceName string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.seen[displayName] = resourceName
}

// Upload uploads text tagged with tags under displayName. If
// skipExisting is true and displayName was already uploaded, it returns
// the cached resource name without calling the store again (spec §4.F,
// scenario S6).
func (ix *Indexer) Upload(ctx context.Context, text, displayName string, tags Tags, skipExisting bool) (string, error) {
	ix.mu.Lock()
	existing, ok := ix.seen[displayName]
	ix.mu.Unlock()
	if ok && skipExisting {
		return existing, nil
	}

	storeName, err := ix.ensureStore(ctx)
	if err != nil {
		return "", err
	}

	opName, err := ix.store.UploadText(ctx, storeName, text, displayName, tags.flatten())
	if err != nil {
		return "", fmt.Errorf("indexer: upload text: %w", err)
	}

	resourceName, err := ix.pollUntilDone(ctx, opName)
	if err != nil {
		return "", err
	}

	ix.mu.Lock()
	ix.seen[displayName] = resourceName
	ix.mu.Unlock()
	return resourceName, nil
}

func (ix *Indexer) pollUntilDone(ctx context.Context, opName string) (string, error) {
	deadline := time.Now().Add(ix.pollTimeout)
	const pollInterval = 2 * time.Second
	for {
		done, resourceName, err := ix.store.PollOperation(ctx, opName)
		if err != nil {
			return "", fmt.Errorf("indexer: upload operation failed: %w", err)
		}
		if done {
			return resourceName, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("indexer: upload operation %q timed out after %s", opName, ix.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// UploadTranscript is the Episode-transcript path of the symmetric
// upload contract (spec §4.F).
func (ix *Indexer) UploadTranscript(ctx context.Context, text, displayName string, tags Tags, skipExisting bool) (string, error) {
	tags.Type = DocTypeTranscript
	return ix.Upload(ctx, text, displayName, tags, skipExisting)
}

// UploadDescription is the Podcast-description path, using a separate
// pending queue and description_file_search_* fields at the repository
// layer (spec §4.F).
func (ix *Indexer) UploadDescription(ctx context.Context, text, displayName string, tags Tags, skipExisting bool) (string, error) {
	tags.Type = DocTypeDescription
	return ix.Upload(ctx, text, displayName, tags, skipExisting)
}
