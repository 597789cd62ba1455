package indexer

import (
	"context"
	"sync"
	"testing"
)

type fakeStore struct {
	mu          sync.Mutex
	uploadCalls int
	nextOp      int
	resources   map[string]string // op name -> resource name
}

func newFakeStore() *fakeStore {
	return &fakeStore{resources: make(map[string]string)}
}

func (f *fakeStore) CreateOrGetStore(ctx context.Context, displayName string) (string, error) {
	return "store/" + displayName, nil
}

func (f *fakeStore) UploadText(ctx context.Context, storeName, text, displayName string, tags map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	f.nextOp++
	op := "op-" + displayName
	f.resources[op] = "resource/" + displayName
	return op, nil
}

func (f *fakeStore) PollOperation(ctx context.Context, opName string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return true, f.resources[opName], nil
}

func TestUploadIdempotentSkipsSecondCall(t *testing.T) {
	store := newFakeStore()
	ix := New(store, "my-store")

	r1, err := ix.UploadTranscript(context.Background(), "text", "ep_y.txt", Tags{Podcast: "P"}, true)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := ix.UploadTranscript(context.Background(), "different text", "ep_y.txt", Tags{Podcast: "P"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Errorf("resource names differ: %q vs %q", r1, r2)
	}
	if store.uploadCalls != 1 {
		t.Errorf("uploadCalls = %d, want 1", store.uploadCalls)
	}
}

func TestUploadWithoutSkipExistingReuploads(t *testing.T) {
	store := newFakeStore()
	ix := New(store, "my-store")

	if _, err := ix.Upload(context.Background(), "a", "dn", Tags{}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Upload(context.Background(), "b", "dn", Tags{}, false); err != nil {
		t.Fatal(err)
	}
	if store.uploadCalls != 2 {
		t.Errorf("uploadCalls = %d, want 2", store.uploadCalls)
	}
}

func TestTagsFlattenTruncatesAndNormalizes(t *testing.T) {
	tags := Tags{
		Type:     DocTypeTranscript,
		Podcast:  "The “Best” Show — Ever…",
		Keywords: []string{"a", "b", "c"},
	}
	m := tags.flatten()
	if m["podcast"] != `The "Best" Show - Ever...` {
		t.Errorf("podcast = %q", m["podcast"])
	}
	if m["keywords"] != "a, b, c" {
		t.Errorf("keywords = %q", m["keywords"])
	}
	if m["type"] != "transcript" {
		t.Errorf("type = %q", m["type"])
	}
}

func TestTagsFlattenCapsAt255Chars(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	tags := Tags{Summary: string(long)}
	m := tags.flatten()
	if len([]rune(m["summary"])) != 255 {
		t.Errorf("summary length = %d, want 255", len([]rune(m["summary"])))
	}
}

func TestMarkKnownPreventsUpload(t *testing.T) {
	store := newFakeStore()
	ix := New(store, "my-store")
	ix.MarkKnown("ep_z.txt", "resource/ep_z.txt")

	r, err := ix.UploadTranscript(context.Background(), "text", "ep_z.txt", Tags{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if r != "resource/ep_z.txt" {
		t.Errorf("resource = %q", r)
	}
	if store.uploadCalls != 0 {
		t.Errorf("uploadCalls = %d, want 0", store.uploadCalls)
	}
}
