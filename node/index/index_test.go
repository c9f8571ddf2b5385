package index_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openwebnode/dwn/node/index"
)

func openIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestRecordRoundTrip(t *testing.T) {
	ix := openIndex(t)
	ctx := context.Background()

	e := index.Entry{
		RecordID:         "rec-1",
		MessageCID:       "bafy-msg-1",
		DataCID:          "bafy-data-1",
		Protocol:         "https://example.com/p",
		ProtocolPath:     "list",
		Schema:           "https://example.com/s",
		DataFormat:       "application/json",
		Author:           "did:key:zAlice",
		Recipient:        "did:key:zBob",
		ContextID:        "rec-1",
		MessageTimestamp: "2026-01-01T00:00:00Z",
	}
	if err := ix.UpsertRecord(ctx, e); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}

	got, err := ix.GetRecord(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if *got != e {
		t.Fatalf("GetRecord = %+v, want %+v", *got, e)
	}

	if _, err := ix.GetRecord(ctx, "rec-absent"); err != index.ErrNotFound {
		t.Fatalf("GetRecord(absent) = %v, want ErrNotFound", err)
	}

	// Upsert replaces in place.
	e.MessageCID = "bafy-msg-2"
	e.Tombstone = true
	if err := ix.UpsertRecord(ctx, e); err != nil {
		t.Fatalf("UpsertRecord(update): %v", err)
	}
	got, err = ix.GetRecord(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.MessageCID != "bafy-msg-2" || !got.Tombstone {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	ix := openIndex(t)
	ctx := context.Background()

	put := func(id, path, parent, ctxID, ts string) {
		t.Helper()
		err := ix.UpsertRecord(ctx, index.Entry{
			RecordID: id, MessageCID: "cid-" + id,
			Protocol: "https://example.com/p", ProtocolPath: path,
			Author: "did:key:zAlice", ParentID: parent, ContextID: ctxID,
			MessageTimestamp: ts,
		})
		if err != nil {
			t.Fatalf("UpsertRecord(%s): %v", id, err)
		}
	}
	put("list-1", "list", "", "list-1", "2026-01-01T00:00:00Z")
	put("todo-1", "list/todo", "list-1", "list-1", "2026-01-02T00:00:00Z")
	put("todo-2", "list/todo", "list-1", "list-1", "2026-01-03T00:00:00Z")

	todos, err := ix.Query(ctx, index.Filter{Protocol: "https://example.com/p", ProtocolPath: "list/todo"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("query returned %d entries, want 2", len(todos))
	}
	// Newest first.
	if todos[0].RecordID != "todo-2" || todos[1].RecordID != "todo-1" {
		t.Fatalf("wrong order: %s, %s", todos[0].RecordID, todos[1].RecordID)
	}

	byParent, err := ix.Query(ctx, index.Filter{ParentID: "list-1"})
	if err != nil {
		t.Fatalf("Query(parent): %v", err)
	}
	if len(byParent) != 2 {
		t.Fatalf("parent filter returned %d entries, want 2", len(byParent))
	}

	byContext, err := ix.Query(ctx, index.Filter{ContextID: "list-1"})
	if err != nil {
		t.Fatalf("Query(context): %v", err)
	}
	if len(byContext) != 3 {
		t.Fatalf("context filter returned %d entries, want 3", len(byContext))
	}
}

func TestQueryFractionalSecondOrder(t *testing.T) {
	ix := openIndex(t)
	ctx := context.Background()

	// Variable-length fractional seconds sort backwards as raw strings
	// ("...00.1Z" > "...00.15Z" byte-wise), so ordering must parse them.
	put := func(id, ts string) {
		t.Helper()
		err := ix.UpsertRecord(ctx, index.Entry{
			RecordID: id, MessageCID: "cid-" + id,
			Protocol: "https://example.com/p", ProtocolPath: "list",
			Author: "did:key:zAlice", ContextID: id,
			MessageTimestamp: ts,
		})
		if err != nil {
			t.Fatalf("UpsertRecord(%s): %v", id, err)
		}
	}
	put("list-early", "2026-01-01T00:00:00.1Z")
	put("list-late", "2026-01-01T00:00:00.15Z")
	put("list-whole", "2026-01-01T00:00:00Z")

	got, err := ix.Query(ctx, index.Filter{ProtocolPath: "list"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("query returned %d entries, want 3", len(got))
	}
	want := []string{"list-late", "list-early", "list-whole"}
	for i, id := range want {
		if got[i].RecordID != id {
			t.Fatalf("entry %d = %s (ts %s), want %s", i, got[i].RecordID, got[i].MessageTimestamp, id)
		}
	}
}

func TestProtocols(t *testing.T) {
	ix := openIndex(t)
	ctx := context.Background()

	def := []byte(`{"protocol":"https://example.com/p"}`)
	if err := ix.InstallProtocol(ctx, "https://example.com/p", "bafy-def", def); err != nil {
		t.Fatalf("InstallProtocol: %v", err)
	}

	cid, raw, err := ix.GetProtocol(ctx, "https://example.com/p")
	if err != nil {
		t.Fatalf("GetProtocol: %v", err)
	}
	if cid != "bafy-def" || string(raw) != string(def) {
		t.Fatalf("GetProtocol = (%s, %s)", cid, raw)
	}

	if _, _, err := ix.GetProtocol(ctx, "https://example.com/absent"); err != index.ErrNotFound {
		t.Fatalf("GetProtocol(absent) = %v, want ErrNotFound", err)
	}

	uris, err := ix.ListProtocols(ctx)
	if err != nil {
		t.Fatalf("ListProtocols: %v", err)
	}
	if len(uris) != 1 || uris[0] != "https://example.com/p" {
		t.Fatalf("ListProtocols = %v", uris)
	}
}

func TestMessageLog(t *testing.T) {
	ix := openIndex(t)
	ctx := context.Background()

	seq1, err := ix.AppendMessage(ctx, "cid-1", "rec-1", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	seq2, err := ix.AppendMessage(ctx, "cid-2", "rec-1", []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence not monotonic: %d then %d", seq1, seq2)
	}

	// Re-appending a known cid keeps its original sequence number.
	again, err := ix.AppendMessage(ctx, "cid-1", "rec-1", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("AppendMessage(replay): %v", err)
	}
	if again != seq1 {
		t.Fatalf("replay seq = %d, want %d", again, seq1)
	}

	has, err := ix.HasMessage(ctx, "cid-1")
	if err != nil || !has {
		t.Fatalf("HasMessage(cid-1) = %v, %v", has, err)
	}
	has, err = ix.HasMessage(ctx, "cid-9")
	if err != nil || has {
		t.Fatalf("HasMessage(cid-9) = %v, %v", has, err)
	}

	raw, err := ix.GetMessage(ctx, "cid-2")
	if err != nil || string(raw) != `{"a":2}` {
		t.Fatalf("GetMessage = %s, %v", raw, err)
	}

	tail, err := ix.MessagesSince(ctx, seq1, 100)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if len(tail) != 1 || tail[0].MessageCID != "cid-2" {
		t.Fatalf("MessagesSince = %+v", tail)
	}
	if tail[0].Origin != "" {
		t.Fatalf("fresh entry origin = %q", tail[0].Origin)
	}

	if err := ix.SetMessageOrigin(ctx, "cid-2", "did:key:zPeer"); err != nil {
		t.Fatalf("SetMessageOrigin: %v", err)
	}
	tail, err = ix.MessagesSince(ctx, seq1, 100)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if tail[0].Origin != "did:key:zPeer" {
		t.Fatalf("origin = %q", tail[0].Origin)
	}

	limited, err := ix.MessagesSince(ctx, 0, 1)
	if err != nil {
		t.Fatalf("MessagesSince(limit): %v", err)
	}
	if len(limited) != 1 || limited[0].MessageCID != "cid-1" {
		t.Fatalf("MessagesSince(limit) = %+v", limited)
	}
}

func TestCursors(t *testing.T) {
	ix := openIndex(t)
	ctx := context.Background()

	pushed, pulled, err := ix.Cursor(ctx, "did:key:zPeer")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if pushed != 0 || pulled != 0 {
		t.Fatalf("fresh cursor = (%d, %d), want zeros", pushed, pulled)
	}

	if err := ix.SetCursor(ctx, "did:key:zPeer", 7, 3); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	pushed, pulled, err = ix.Cursor(ctx, "did:key:zPeer")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if pushed != 7 || pulled != 3 {
		t.Fatalf("cursor = (%d, %d), want (7, 3)", pushed, pulled)
	}
}
