package hash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigests_KnownVectors(t *testing.T) {
	if got := MD5Hex(""); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("MD5Hex(\"\") = %s", got)
	}
	if got := SHA256Hex("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("SHA256Hex(abc) = %s", got)
	}
}

func TestEqual(t *testing.T) {
	if !Equal("ABCDEF", " abcdef ") {
		t.Fatalf("expected case-insensitive match")
	}
	if Equal("abc", "abd") {
		t.Fatalf("expected mismatch")
	}
}

func TestFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.bin")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, size, err := File(p)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if size != 3 || sum != SHA256Hex("abc") {
		t.Fatalf("unexpected sum=%s size=%d", sum, size)
	}
}
