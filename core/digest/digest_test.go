package digest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestBytesKnownVector(t *testing.T) {
	if got := Bytes([]byte("hello")); got != helloDigest {
		t.Fatalf("expected %s got %s", helloDigest, got)
	}
}

func TestFileIgnoresMetadata(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.txt")
	second := filepath.Join(dir, "nested-name.bin")
	if err := os.WriteFile(first, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := os.WriteFile(second, []byte("hello"), 0o755); err != nil {
		t.Fatalf("write second: %v", err)
	}
	past := time.Unix(1_000_000, 0)
	if err := os.Chtimes(second, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	a, err := File(first)
	if err != nil {
		t.Fatalf("hash first: %v", err)
	}
	b, err := File(second)
	if err != nil {
		t.Fatalf("hash second: %v", err)
	}
	if a != helloDigest || b != helloDigest {
		t.Fatalf("expected both digests %s got %s and %s", helloDigest, a, b)
	}
}

func TestFileLargerThanChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.bin")
	content := bytes.Repeat([]byte{0xAB}, chunkSize*3+17)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("hash file: %v", err)
	}
	if got != Bytes(content) {
		t.Fatalf("chunked digest mismatch")
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFileRejectsDirectory(t *testing.T) {
	if _, err := File(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory")
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{value: helloDigest, want: true},
		{value: strings.Repeat("0", HexLen), want: true},
		{value: strings.ToUpper(helloDigest), want: false},
		{value: helloDigest[:63], want: false},
		{value: helloDigest + "0", want: false},
		{value: strings.Repeat("g", HexLen), want: false},
		{value: "", want: false},
	}
	for _, tc := range cases {
		if got := Valid(tc.value); got != tc.want {
			t.Fatalf("Valid(%q): expected %v got %v", tc.value, tc.want, got)
		}
	}
}
