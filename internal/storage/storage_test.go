package storage

import (
	"bytes"
	"errors"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("fed/save/1")
	value := []byte("checkpoint")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("gone")
	_ = s.Set(key, []byte("v"))

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if got, _ := s.Get(key); got != nil {
		t.Errorf("deleted key still returns %q", got)
	}
}

func TestSetBatchAndIteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	err := s.SetBatch([]KeyValue{
		{Key: []byte("a/2"), Value: []byte("two")},
		{Key: []byte("a/1"), Value: []byte("one")},
		{Key: []byte("b/1"), Value: []byte("other")},
	})
	if err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	var keys []string
	err = s.IteratePrefix([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(keys) != 2 || keys[0] != "a/1" || keys[1] != "a/2" {
		t.Errorf("got keys %v, want [a/1 a/2]", keys)
	}
}

func TestIteratePrefixStopsOnError(t *testing.T) {
	s := newTestStorage(t)

	_ = s.Set([]byte("p/1"), nil)
	_ = s.Set([]byte("p/2"), nil)

	stop := errors.New("stop")
	calls := 0

	err := s.IteratePrefix([]byte("p/"), func(_, _ []byte) error {
		calls++
		return stop
	})

	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("got err %v after %d calls, want stop after 1", err, calls)
	}
}

func TestDeletePrefix(t *testing.T) {
	s := newTestStorage(t)

	_ = s.Set([]byte("x/1"), []byte("1"))
	_ = s.Set([]byte("x/2"), []byte("2"))
	_ = s.Set([]byte("y/1"), []byte("3"))

	if err := s.DeletePrefix([]byte("x/")); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	if got, _ := s.Get([]byte("x/2")); got != nil {
		t.Errorf("x/2 survived: %q", got)
	}

	if got, _ := s.Get([]byte("y/1")); !bytes.Equal(got, []byte("3")) {
		t.Errorf("y/1: got %q, want 3", got)
	}

	if err := s.DeletePrefix([]byte{0xFF}); err == nil {
		t.Error("unbounded prefix should be refused")
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("a"), []byte("b")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}

	for _, tt := range tests {
		if got := prefixUpperBound(tt.prefix); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_ = s.Set([]byte("k"), []byte("v"))

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	s, err = Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if got, _ := s.Get([]byte("k")); !bytes.Equal(got, []byte("v")) {
		t.Errorf("after reopen: got %q, want v", got)
	}
}
