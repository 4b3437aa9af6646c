// Package extract unpacks untrusted evidence archives without letting any
// member escape the destination directory.
package extract

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	RuleAbsolutePath    = "absolute_path"
	RuleParentSegment   = "parent_segment"
	RuleSymlink         = "symlink"
	RuleHardlink        = "hardlink"
	RuleUnsupportedType = "unsupported_type"
	RuleEmptyName       = "empty_name"
	RuleDuplicatePath   = "duplicate_path"
	RuleFileConflict    = "file_conflict"
	RuleTooManyMembers  = "too_many_members"
	RuleMemberTooLarge  = "member_too_large"
	RuleArchiveTooLarge = "archive_too_large"
)

type Limits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
}

// DefaultLimits bounds what a single evidence bundle may expand to.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      100_000,
		MaxFileBytes:  4 << 30,
		MaxTotalBytes: 16 << 30,
	}
}

type Result struct {
	Files       int
	Directories int
	Bytes       int64
}

// UnsafeMemberError identifies the member and the rule that rejected it.
type UnsafeMemberError struct {
	Member string
	Rule   string
}

func (e *UnsafeMemberError) Error() string {
	return fmt.Sprintf("unsafe archive member %q: %s", e.Member, e.Rule)
}

// CorruptArchiveError wraps a failure to decode the gzip or tar stream.
type CorruptArchiveError struct {
	Err error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive: %v", e.Err)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// Extract unpacks archivePath into dest. Every header is checked in a first
// pass; nothing is written unless the whole archive is acceptable. When the
// second pass fails partway, dest is removed if Extract created it and is
// otherwise left partially written. Files are created 0600 and directories
// 0750 regardless of archive metadata. A bare "." directory member, as
// written by `tar -C dir .`, is ignored.
func Extract(archivePath, dest string, limits Limits) (Result, error) {
	members, err := scan(archivePath, limits)
	if err != nil {
		return Result{}, err
	}
	_, statErr := os.Lstat(dest)
	created := errors.Is(statErr, fs.ErrNotExist)
	result, err := write(archivePath, dest, members)
	if err != nil && created {
		_ = os.RemoveAll(dest)
	}
	return result, err
}

// scan returns the cleaned names of the members to write, in stream order.
// Repeated directory members are collapsed.
func scan(archivePath string, limits Limits) ([]string, error) {
	var members []string
	seen := map[string]byte{}
	var total int64
	files := 0
	err := walk(archivePath, func(header *tar.Header, _ io.Reader) error {
		name, err := checkMember(header)
		if err != nil {
			return err
		}
		if name == rootMember {
			return nil
		}
		if previous, ok := seen[name]; ok {
			if previous == tar.TypeDir && header.Typeflag == tar.TypeDir {
				return nil
			}
			return &UnsafeMemberError{Member: header.Name, Rule: RuleDuplicatePath}
		}
		for parent := path.Dir(name); parent != "."; parent = path.Dir(parent) {
			kind, ok := seen[parent]
			if ok && kind != tar.TypeDir {
				return &UnsafeMemberError{Member: header.Name, Rule: RuleFileConflict}
			}
			if !ok {
				seen[parent] = tar.TypeDir
			}
		}
		seen[name] = header.Typeflag
		if header.Typeflag == tar.TypeReg {
			files++
			if limits.MaxFiles > 0 && files > limits.MaxFiles {
				return &UnsafeMemberError{Member: header.Name, Rule: RuleTooManyMembers}
			}
			if header.Size < 0 || (limits.MaxFileBytes > 0 && header.Size > limits.MaxFileBytes) {
				return &UnsafeMemberError{Member: header.Name, Rule: RuleMemberTooLarge}
			}
			total += header.Size
			if limits.MaxTotalBytes > 0 && total > limits.MaxTotalBytes {
				return &UnsafeMemberError{Member: header.Name, Rule: RuleArchiveTooLarge}
			}
		}
		members = append(members, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// rootMember is the cleaned name of a "./" directory entry.
const rootMember = "."

// checkMember applies the path and type rules and returns the cleaned
// slash path of the member.
func checkMember(header *tar.Header) (string, error) {
	raw := header.Name
	reject := func(rule string) (string, error) {
		return "", &UnsafeMemberError{Member: raw, Rule: rule}
	}
	switch header.Typeflag {
	case tar.TypeSymlink:
		return reject(RuleSymlink)
	case tar.TypeLink:
		return reject(RuleHardlink)
	case tar.TypeReg, tar.TypeDir:
	default:
		return reject(RuleUnsupportedType)
	}

	if strings.TrimSpace(raw) == "" {
		return reject(RuleEmptyName)
	}
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\") || filepath.IsAbs(raw) || hasDriveLetter(raw) {
		return reject(RuleAbsolutePath)
	}
	normalized := strings.ReplaceAll(raw, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return reject(RuleParentSegment)
		}
	}
	cleaned := path.Clean(normalized)
	if cleaned == rootMember && header.Typeflag == tar.TypeDir {
		return rootMember, nil
	}
	if cleaned == rootMember || cleaned == "" {
		return reject(RuleEmptyName)
	}
	return cleaned, nil
}

func hasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func write(archivePath, dest string, members []string) (Result, error) {
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return Result{}, fmt.Errorf("create destination: %w", err)
	}
	var result Result
	index := 0
	err := walk(archivePath, func(header *tar.Header, reader io.Reader) error {
		if index >= len(members) {
			if header.Typeflag == tar.TypeDir {
				return nil
			}
			return &CorruptArchiveError{Err: errors.New("archive changed between passes")}
		}
		name, err := checkMember(header)
		if err != nil {
			return err
		}
		if name == rootMember {
			return nil
		}
		if name != members[index] {
			// Repeated directory members were collapsed during the scan.
			if header.Typeflag == tar.TypeDir {
				return nil
			}
			return &CorruptArchiveError{Err: errors.New("archive changed between passes")}
		}
		index++
		target := filepath.Join(dest, filepath.FromSlash(name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create dir %s: %w", name, err)
			}
			result.Directories++
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("create parent of %s: %w", name, err)
			}
			written, err := writeFile(target, reader, header.Size)
			if err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			result.Files++
			result.Bytes += written
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func writeFile(target string, reader io.Reader, size int64) (int64, error) {
	// #nosec G304 -- target was validated by checkMember and joined under dest.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	written, err := io.CopyN(out, reader, size)
	if err != nil {
		_ = out.Close()
		return written, err
	}
	if err := out.Close(); err != nil {
		return written, err
	}
	return written, nil
}

func walk(archivePath string, visit func(*tar.Header, io.Reader) error) error {
	// #nosec G304 -- archive path is explicit local input.
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return &CorruptArchiveError{Err: err}
	}
	defer func() {
		_ = gzipReader.Close()
	}()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Insecure names are judged by checkMember so the rule is reported.
		if err != nil && !(errors.Is(err, tar.ErrInsecurePath) && header != nil) {
			return &CorruptArchiveError{Err: err}
		}
		if err := visit(header, tarReader); err != nil {
			return err
		}
	}
}
