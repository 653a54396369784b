package http11

import "testing"

func TestHeaderAddGet(t *testing.T) {
	var h Header
	if err := h.Add([]byte("Content-Type"), []byte("text/plain")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := h.GetString([]byte("content-type")); got != "text/plain" {
		t.Errorf("GetString (case-insensitive) = %q, want text/plain", got)
	}
}

func TestHeaderRejectsCRLFInjection(t *testing.T) {
	var h Header
	if err := h.Add([]byte("X-Evil"), []byte("value\r\nX-Injected: yes")); err != ErrInvalidHeader {
		t.Fatalf("err = %v, want ErrInvalidHeader", err)
	}
}

func TestHeaderSetReplacesExisting(t *testing.T) {
	var h Header
	h.Add([]byte("X-A"), []byte("one"))
	h.Set([]byte("X-A"), []byte("two"))
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	if got := h.GetString([]byte("X-A")); got != "two" {
		t.Errorf("GetString = %q, want two", got)
	}
}

func TestHeaderOverflowForManyHeaders(t *testing.T) {
	var h Header
	for i := 0; i < MaxHeaders+5; i++ {
		name := []byte{'X', byte('A' + i%26)}
		h.Add(name, []byte("v"))
	}
	if h.Len() != MaxHeaders+5 {
		t.Fatalf("Len() = %d, want %d", h.Len(), MaxHeaders+5)
	}
}

func TestHeaderDel(t *testing.T) {
	var h Header
	h.Add([]byte("X-A"), []byte("1"))
	h.Add([]byte("X-B"), []byte("2"))
	h.Del([]byte("x-a"))
	if h.Has([]byte("X-A")) {
		t.Error("X-A still present after Del")
	}
	if !h.Has([]byte("X-B")) {
		t.Error("X-B unexpectedly removed")
	}
}

func TestHeaderVisitAllCoversOverflow(t *testing.T) {
	var h Header
	for i := 0; i < MaxHeaders+2; i++ {
		name := []byte{'X', byte('A' + i)}
		h.Add(name, []byte("v"))
	}
	seen := 0
	h.VisitAll(func(name, value []byte) bool {
		seen++
		return true
	})
	if seen != MaxHeaders+2 {
		t.Errorf("VisitAll saw %d headers, want %d", seen, MaxHeaders+2)
	}
}
