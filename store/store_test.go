package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertOneAndFindOne(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertOne("accounts", Document{"name": "alice", "balance": float64(100)})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	doc, ok := s.FindOne("accounts", Document{"name": "alice"})
	if !ok {
		t.Fatal("expected to find inserted document")
	}
	if doc[idField] != id {
		t.Fatalf("expected id %q, got %v", id, doc[idField])
	}
}

func TestInsertOneRejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertOne("accounts", Document{idField: "a1", "name": "alice"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.InsertOne("accounts", Document{idField: "a1", "name": "bob"}); err == nil {
		t.Fatal("expected duplicate id rejection")
	}
}

func TestUpdateOneMergesFields(t *testing.T) {
	s := openTestStore(t)
	s.InsertOne("accounts", Document{idField: "a1", "name": "alice", "balance": float64(100)})
	ok, err := s.UpdateOne("accounts", Document{idField: "a1"}, Document{"balance": float64(150)})
	if err != nil || !ok {
		t.Fatalf("UpdateOne: ok=%v err=%v", ok, err)
	}
	doc, _ := s.FindOne("accounts", Document{idField: "a1"})
	if doc["balance"] != float64(150) {
		t.Fatalf("expected balance 150, got %v", doc["balance"])
	}
	if doc["name"] != "alice" {
		t.Fatal("expected unrelated fields to survive the merge")
	}
}

func TestFindReturnsAllMatches(t *testing.T) {
	s := openTestStore(t)
	s.InsertOne("witnesses", Document{"active": true, "name": "w1"})
	s.InsertOne("witnesses", Document{"active": true, "name": "w2"})
	s.InsertOne("witnesses", Document{"active": false, "name": "w3"})

	active := s.Find("witnesses", Document{"active": true})
	if len(active) != 2 {
		t.Fatalf("expected 2 active witnesses, got %d", len(active))
	}
}

func TestWriteToDiskPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.InsertOne("accounts", Document{idField: "a1", "name": "alice"}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if err := s.WriteToDisk(false); err != nil {
		t.Fatalf("WriteToDisk: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	doc, ok := reopened.FindOne("accounts", Document{idField: "a1"})
	if !ok {
		t.Fatal("expected checkpointed document to survive reopen")
	}
	if doc["name"] != "alice" {
		t.Fatalf("expected name alice, got %v", doc["name"])
	}
}

func TestWriteToDiskIsNoOpWhenNotDirtyAndNotForced(t *testing.T) {
	s := openTestStore(t)
	if err := s.WriteToDisk(false); err != nil {
		t.Fatalf("expected no-op flush to succeed, got %v", err)
	}
}
