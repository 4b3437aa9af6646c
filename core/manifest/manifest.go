// Package manifest builds, writes, and strictly parses the canonical
// sha256sum listing embedded in every evidence bundle.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OrygnsCode/ci-evidence-pack/core/digest"
	"github.com/OrygnsCode/ci-evidence-pack/core/fsx"
)

// Path is the slash-separated location of the manifest inside a staged tree.
const Path = "manifest/sha256sum.txt"

const separator = "  "

type Entry struct {
	Path   string
	Digest string
}

type Manifest struct {
	Entries []Entry
}

// ParseError names the 1-based line that broke the canonical form.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: %s", e.Line, e.Reason)
}

// ValidatePath accepts relative slash paths with no empty, "." or ".." segment.
func ValidatePath(value string) error {
	switch {
	case value == "":
		return fmt.Errorf("empty path")
	case strings.HasPrefix(value, "/"):
		return fmt.Errorf("absolute path %q", value)
	case strings.ContainsAny(value, "\\\x00\r\n"):
		return fmt.Errorf("path %q contains a forbidden character", value)
	case len(value) >= 2 && value[1] == ':' && isASCIILetter(value[0]):
		return fmt.Errorf("drive-qualified path %q", value)
	}
	for _, segment := range strings.Split(value, "/") {
		switch segment {
		case "":
			return fmt.Errorf("path %q has an empty segment", value)
		case ".":
			return fmt.Errorf("path %q has a current-directory segment", value)
		case "..":
			return fmt.Errorf("path %q has a parent-directory segment", value)
		}
	}
	return nil
}

// Bytes renders the canonical form: one "<digest>  <path>\n" line per entry.
func (m Manifest) Bytes() []byte {
	var buffer bytes.Buffer
	for _, entry := range m.Entries {
		buffer.WriteString(entry.Digest)
		buffer.WriteString(separator)
		buffer.WriteString(entry.Path)
		buffer.WriteByte('\n')
	}
	return buffer.Bytes()
}

func (m Manifest) Index() map[string]string {
	index := make(map[string]string, len(m.Entries))
	for _, entry := range m.Entries {
		index[entry.Path] = entry.Digest
	}
	return index
}

func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for _, entry := range m.Entries {
		paths = append(paths, entry.Path)
	}
	return paths
}

// Parse rejects anything that is not exactly the output of Bytes.
func Parse(data []byte) (Manifest, error) {
	if len(data) == 0 {
		return Manifest{}, nil
	}
	if data[len(data)-1] != '\n' {
		lines := bytes.Count(data, []byte{'\n'}) + 1
		return Manifest{}, &ParseError{Line: lines, Reason: "missing trailing newline"}
	}
	lines := strings.Split(string(data[:len(data)-1]), "\n")
	entries := make([]Entry, 0, len(lines))
	for index, line := range lines {
		lineNumber := index + 1
		if line == "" {
			return Manifest{}, &ParseError{Line: lineNumber, Reason: "blank line"}
		}
		if strings.Contains(line, "\r") {
			return Manifest{}, &ParseError{Line: lineNumber, Reason: "carriage return"}
		}
		sum, entryPath, ok := strings.Cut(line, separator)
		if !ok {
			return Manifest{}, &ParseError{Line: lineNumber, Reason: "missing two-space separator"}
		}
		if !digest.Valid(sum) {
			return Manifest{}, &ParseError{Line: lineNumber, Reason: fmt.Sprintf("digest %q is not %d lowercase hex characters", sum, digest.HexLen)}
		}
		if err := ValidatePath(entryPath); err != nil {
			return Manifest{}, &ParseError{Line: lineNumber, Reason: err.Error()}
		}
		if len(entries) > 0 {
			previous := entries[len(entries)-1].Path
			if entryPath == previous {
				return Manifest{}, &ParseError{Line: lineNumber, Reason: fmt.Sprintf("duplicate path %q", entryPath)}
			}
			if entryPath < previous {
				return Manifest{}, &ParseError{Line: lineNumber, Reason: fmt.Sprintf("path %q sorts before %q", entryPath, previous)}
			}
		}
		entries = append(entries, Entry{Path: entryPath, Digest: sum})
	}
	return Manifest{Entries: entries}, nil
}

func Load(manifestPath string) (Manifest, error) {
	// #nosec G304 -- manifest path is explicit local input.
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}
	return manifest, nil
}

// Generate builds the manifest for root and writes it to its fixed location.
func Generate(root string, opts BuildOptions) (Manifest, error) {
	manifest, err := Build(root, Path, opts)
	if err != nil {
		return Manifest{}, err
	}
	target := filepath.Join(root, filepath.FromSlash(Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return Manifest{}, fmt.Errorf("create manifest dir: %w", err)
	}
	if err := fsx.WriteFileAtomic(target, manifest.Bytes(), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Path, b.Path)
	})
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func joinSlash(parent, name string) string {
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}
