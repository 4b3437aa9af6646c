package extract

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type testMember struct {
	name     string
	typeflag byte
	body     string
	linkname string
	mode     int64
}

func writeArchive(t *testing.T, members []testMember) string {
	t.Helper()
	var buffer bytes.Buffer
	gzipWriter := gzip.NewWriter(&buffer)
	tarWriter := tar.NewWriter(gzipWriter)
	for _, m := range members {
		mode := m.mode
		if mode == 0 {
			mode = 0o644
		}
		header := &tar.Header{
			Name:     m.name,
			Typeflag: m.typeflag,
			Mode:     mode,
			Size:     int64(len(m.body)),
			Linkname: m.linkname,
		}
		if m.typeflag != tar.TypeReg {
			header.Size = 0
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			t.Fatalf("write header %s: %v", m.name, err)
		}
		if m.typeflag == tar.TypeReg {
			if _, err := tarWriter.Write([]byte(m.body)); err != nil {
				t.Fatalf("write body %s: %v", m.name, err)
			}
		}
	}
	if err := tarWriter.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gzipWriter.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	archivePath := filepath.Join(t.TempDir(), "bundle.tar.gz")
	if err := os.WriteFile(archivePath, buffer.Bytes(), 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return archivePath
}

func TestExtractWritesFilesWithSafeModes(t *testing.T) {
	archivePath := writeArchive(t, []testMember{
		{name: "file1.txt", typeflag: tar.TypeReg, body: "hello", mode: 0o4755},
		{name: "subdir/", typeflag: tar.TypeDir, mode: 0o777},
		{name: "subdir/file2.txt", typeflag: tar.TypeReg, body: "world"},
	})
	dest := filepath.Join(t.TempDir(), "out")

	result, err := Extract(archivePath, dest, DefaultLimits())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.Files != 2 || result.Directories != 1 || result.Bytes != 10 {
		t.Fatalf("unexpected result: %#v", result)
	}
	content, err := os.ReadFile(filepath.Join(dest, "subdir", "file2.txt"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "world" {
		t.Fatalf("unexpected content %q", string(content))
	}
	info, err := os.Stat(filepath.Join(dest, "file1.txt"))
	if err != nil {
		t.Fatalf("stat extracted file: %v", err)
	}
	if info.Mode().Perm() != 0o600 || info.Mode()&os.ModeSetuid != 0 {
		t.Fatalf("expected mode 0600 got %v", info.Mode())
	}
}

func TestExtractRejectsUnsafeMembersBeforeWriting(t *testing.T) {
	cases := []struct {
		name    string
		members []testMember
		member  string
		rule    string
	}{
		{
			name: "absolute_path",
			members: []testMember{
				{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
				{name: "/etc/evil", typeflag: tar.TypeReg, body: "x"},
			},
			member: "/etc/evil",
			rule:   RuleAbsolutePath,
		},
		{
			name: "backslash_absolute",
			members: []testMember{
				{name: "\\windows\\evil", typeflag: tar.TypeReg, body: "x"},
			},
			member: "\\windows\\evil",
			rule:   RuleAbsolutePath,
		},
		{
			name: "drive_letter",
			members: []testMember{
				{name: "C:evil", typeflag: tar.TypeReg, body: "x"},
			},
			member: "C:evil",
			rule:   RuleAbsolutePath,
		},
		{
			name: "parent_segment",
			members: []testMember{
				{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
				{name: "artifacts/../../escape.txt", typeflag: tar.TypeReg, body: "x"},
			},
			member: "artifacts/../../escape.txt",
			rule:   RuleParentSegment,
		},
		{
			name: "symlink",
			members: []testMember{
				{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
				{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
			},
			member: "link",
			rule:   RuleSymlink,
		},
		{
			name: "hardlink",
			members: []testMember{
				{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
				{name: "hard", typeflag: tar.TypeLink, linkname: "ok.txt"},
			},
			member: "hard",
			rule:   RuleHardlink,
		},
		{
			name: "fifo",
			members: []testMember{
				{name: "pipe", typeflag: tar.TypeFifo},
			},
			member: "pipe",
			rule:   RuleUnsupportedType,
		},
		{
			name: "duplicate",
			members: []testMember{
				{name: "a.txt", typeflag: tar.TypeReg, body: "one"},
				{name: "./a.txt", typeflag: tar.TypeReg, body: "two"},
			},
			member: "./a.txt",
			rule:   RuleDuplicatePath,
		},
		{
			name: "file_then_child",
			members: []testMember{
				{name: "a", typeflag: tar.TypeReg, body: "one"},
				{name: "a/b", typeflag: tar.TypeReg, body: "two"},
			},
			member: "a/b",
			rule:   RuleFileConflict,
		},
		{
			name: "child_then_file",
			members: []testMember{
				{name: "a/b", typeflag: tar.TypeReg, body: "one"},
				{name: "a", typeflag: tar.TypeReg, body: "two"},
			},
			member: "a",
			rule:   RuleDuplicatePath,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			archivePath := writeArchive(t, tc.members)
			dest := filepath.Join(t.TempDir(), "out")

			_, err := Extract(archivePath, dest, DefaultLimits())
			var unsafe *UnsafeMemberError
			if !errors.As(err, &unsafe) {
				t.Fatalf("expected UnsafeMemberError got %v", err)
			}
			if unsafe.Member != tc.member || unsafe.Rule != tc.rule {
				t.Fatalf("expected %s/%s got %s/%s", tc.member, tc.rule, unsafe.Member, unsafe.Rule)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Fatalf("expected nothing written, stat err=%v", err)
			}
		})
	}
}

func TestExtractLimits(t *testing.T) {
	members := []testMember{
		{name: "a.txt", typeflag: tar.TypeReg, body: "aaaa"},
		{name: "b.txt", typeflag: tar.TypeReg, body: "bbbb"},
		{name: "c.txt", typeflag: tar.TypeReg, body: "cccc"},
	}
	cases := []struct {
		name   string
		limits Limits
		rule   string
	}{
		{name: "files", limits: Limits{MaxFiles: 2}, rule: RuleTooManyMembers},
		{name: "member_bytes", limits: Limits{MaxFileBytes: 3}, rule: RuleMemberTooLarge},
		{name: "total_bytes", limits: Limits{MaxTotalBytes: 10}, rule: RuleArchiveTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "out")
			_, err := Extract(writeArchive(t, members), dest, tc.limits)
			var unsafe *UnsafeMemberError
			if !errors.As(err, &unsafe) || unsafe.Rule != tc.rule {
				t.Fatalf("expected rule %s got %v", tc.rule, err)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Fatalf("expected nothing written, stat err=%v", err)
			}
		})
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "bundle.tar.gz")
	if err := os.WriteFile(archivePath, []byte("not a gzip stream"), 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	_, err := Extract(archivePath, filepath.Join(t.TempDir(), "out"), DefaultLimits())
	var corrupt *CorruptArchiveError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptArchiveError got %v", err)
	}
}

func TestExtractMissingArchive(t *testing.T) {
	_, err := Extract(filepath.Join(t.TempDir(), "missing.tar.gz"), t.TempDir(), DefaultLimits())
	if err == nil {
		t.Fatalf("expected error for missing archive")
	}
	var corrupt *CorruptArchiveError
	if errors.As(err, &corrupt) {
		t.Fatalf("missing archive must not be reported as corrupt")
	}
}

func TestExtractIgnoresRootDirectoryMember(t *testing.T) {
	archivePath := writeArchive(t, []testMember{
		{name: "./", typeflag: tar.TypeDir},
		{name: "./file1.txt", typeflag: tar.TypeReg, body: "hello"},
		{name: "./subdir/", typeflag: tar.TypeDir},
		{name: "./subdir/file2.txt", typeflag: tar.TypeReg, body: "world"},
		{name: ".", typeflag: tar.TypeDir},
	})
	dest := filepath.Join(t.TempDir(), "out")

	result, err := Extract(archivePath, dest, DefaultLimits())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if result.Files != 2 || result.Directories != 1 {
		t.Fatalf("expected 2 files and 1 directory got %#v", result)
	}
	content, err := os.ReadFile(filepath.Join(dest, "subdir", "file2.txt"))
	if err != nil || string(content) != "world" {
		t.Fatalf("expected subdir/file2.txt=world got %q (%v)", content, err)
	}
}

func TestExtractRejectsRootNameForFiles(t *testing.T) {
	_, err := Extract(writeArchive(t, []testMember{{name: ".", typeflag: tar.TypeReg, body: "x"}}), filepath.Join(t.TempDir(), "out"), DefaultLimits())
	var unsafe *UnsafeMemberError
	if !errors.As(err, &unsafe) || unsafe.Rule != RuleEmptyName {
		t.Fatalf("expected %s got %v", RuleEmptyName, err)
	}
}

func TestExtractWriteFailureRemovesCreatedDestination(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("name length limits differ on windows")
	}
	members := []testMember{
		{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
		{name: strings.Repeat("n", 300) + ".txt", typeflag: tar.TypeReg, body: "too long for the filesystem"},
	}

	dest := filepath.Join(t.TempDir(), "out")
	if _, err := Extract(writeArchive(t, members), dest, DefaultLimits()); err == nil {
		t.Fatalf("expected write failure")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("expected created destination to be removed, stat err=%v", err)
	}

	existing := t.TempDir()
	if _, err := Extract(writeArchive(t, members), existing, DefaultLimits()); err == nil {
		t.Fatalf("expected write failure")
	}
	if _, err := os.Stat(existing); err != nil {
		t.Fatalf("expected caller-owned destination to survive: %v", err)
	}
}
