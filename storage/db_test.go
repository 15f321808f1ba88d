package storage

import "testing"

func TestMemDBPutGetRoundTrip(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %s", got)
	}
}

func TestMemDBGetMissingKeyErrors(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("missing")); err == nil {
		t.Fatal("expected an error for a missing key")
	}
}

func TestLevelDBPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("market/1"), []byte("snapshot")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("market/1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "snapshot" {
		t.Fatalf("expected snapshot, got %s", got)
	}
}

func TestLevelDBGetMissingKeyErrors(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("missing")); err == nil {
		t.Fatal("expected an error for a missing key")
	}
}
