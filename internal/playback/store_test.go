package playback

import (
	"context"
	"sort"
	"testing"

	"playback-orchestrator/internal/media"
	"playback-orchestrator/internal/platform/logger"
)

func newBareSession(elementID string) *Session {
	return newSession(context.Background(), Request{ElementID: elementID, VideoID: "clear_video"}, media.Descriptor{}, nil, logger.Discard(), nil)
}

func TestInMemoryStore_GetSetSession(t *testing.T) {
	store := NewInMemoryStore()
	sess := newBareSession(PrimaryElementID)

	if _, ok := store.GetSession(sess.ID); ok {
		t.Error("expected not found for empty store")
	}

	store.SetSession(sess)
	got, ok := store.GetSession(sess.ID)
	if !ok || got != sess {
		t.Errorf("GetSession: ok=%v, got %p want %p", ok, got, sess)
	}
}

func TestInMemoryStore_DeleteSession(t *testing.T) {
	store := NewInMemoryStore()
	sess := newBareSession(PrimaryElementID)
	store.SetSession(sess)
	store.DeleteSession(sess.ID)

	if _, ok := store.GetSession(sess.ID); ok {
		t.Error("session still present after delete")
	}
}

func TestInMemoryStore_ListSessionIDs(t *testing.T) {
	store := NewInMemoryStore()
	a, b := newBareSession("a"), newBareSession("b")
	store.SetSession(a)
	store.SetSession(b)

	ids := store.ListSessionIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []SessionID{a.ID, b.ID}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("ListSessionIDs = %v, want %v", ids, want)
	}
}
