package cache

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGet(t *testing.T) {
	db := testDB(t)

	if err := db.Set("k1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := db.Get("k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get() = %q, want {\"a\":1}", got)
	}
}

func TestGetMissing(t *testing.T) {
	db := testDB(t)

	_, ok, err := db.Get("absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true for missing key")
	}
}

func TestSetReplaces(t *testing.T) {
	db := testDB(t)

	if err := db.Set("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("k", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	got, ok, _ := db.Get("k")
	if !ok || string(got) != "v2" {
		t.Errorf("Get() = %q, %v; want v2, true", got, ok)
	}
}

func TestRemove(t *testing.T) {
	db := testDB(t)

	if err := db.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := db.Remove("k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok, _ := db.Get("k"); ok {
		t.Error("entry still present after Remove()")
	}

	// Removing a missing key is not an error.
	if err := db.Remove("absent"); err != nil {
		t.Errorf("Remove(absent) error = %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if result.Changed {
		t.Error("second Migrate() reported changes")
	}
}

func TestKeyNamers(t *testing.T) {
	if got := MessagesKey("m1"); got != "ministry:m1:messages" {
		t.Errorf("MessagesKey = %q", got)
	}
	if got := RoomKey("m1"); got != "ministry:m1:meta" {
		t.Errorf("RoomKey = %q", got)
	}
	if got := MembershipKey("m1", "u1"); got != "ministry:m1:member:u1" {
		t.Errorf("MembershipKey = %q", got)
	}
}
