package bundle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OrygnsCode/ci-evidence-pack/core/manifest"
	"github.com/OrygnsCode/ci-evidence-pack/core/schema/v1/evidence"
)

const artifactsDir = "artifacts"

// includeTarget is one include resolved against the repository.
type includeTarget struct {
	rel    string
	source string
	isDir  bool
}

// resolveInclude maps a user include onto a repo-relative path. The second
// return is a warning when the include must be skipped.
func resolveInclude(repoRoot, include string) (includeTarget, string) {
	trimmed := strings.TrimSpace(include)
	if trimmed == "" {
		return includeTarget{}, "empty include path"
	}
	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(repoRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(repoRoot, candidate)
	if (err != nil || escapes(rel)) && filepath.IsAbs(trimmed) {
		// The repo root is symlink-resolved; retry with the include resolved too.
		if resolved, resolveErr := filepath.EvalSymlinks(candidate); resolveErr == nil {
			rel, err = filepath.Rel(repoRoot, resolved)
		}
	}
	if err != nil || escapes(rel) {
		return includeTarget{}, fmt.Sprintf("include %s is not inside repo %s; skipping", include, repoRoot)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return includeTarget{}, fmt.Sprintf("include path not found: %s", include)
		}
		return includeTarget{}, fmt.Sprintf("include %s cannot be resolved: %v", include, err)
	}
	if resolvedRel, err := filepath.Rel(repoRoot, resolved); err != nil || escapes(resolvedRel) {
		return includeTarget{}, fmt.Sprintf("include %s resolves outside repo %s; skipping", include, repoRoot)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return includeTarget{}, fmt.Sprintf("include %s cannot be read: %v", include, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return includeTarget{}, fmt.Sprintf("include %s is not a regular file or directory; skipping", include)
	}
	return includeTarget{rel: filepath.ToSlash(rel), source: resolved, isDir: info.IsDir()}, ""
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

// stageArtifacts copies every include under stage/artifacts and returns the
// sorted inputs log and any warnings.
func stageArtifacts(repoRoot, stage string, includes []string, exclude []string) ([]evidence.InputEntry, []string, error) {
	artifacts := filepath.Join(stage, artifactsDir)
	if err := os.MkdirAll(artifacts, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	var warnings []string
	seen := map[string]bool{}
	var inputs []evidence.InputEntry
	for _, include := range includes {
		target, warning := resolveInclude(repoRoot, include)
		if warning != "" {
			warnings = append(warnings, warning)
			continue
		}
		if seen[target.rel] {
			continue
		}
		seen[target.rel] = true
		if err := manifest.ValidatePath(stagedPath(target.rel)); err != nil {
			warnings = append(warnings, fmt.Sprintf("include %s cannot be recorded in the manifest: %v; skipping", include, err))
			continue
		}

		destination := filepath.Join(artifacts, filepath.FromSlash(target.rel))
		entryType := evidence.InputTypeFile
		if target.isDir {
			entryType = evidence.InputTypeDir
			skipped, err := copyTree(target.source, destination, stagedPath(target.rel), exclude)
			if err != nil {
				return nil, nil, err
			}
			warnings = append(warnings, skipped...)
		} else {
			if err := copyFile(target.source, destination); err != nil {
				return nil, nil, err
			}
		}
		inputs = append(inputs, evidence.InputEntry{Src: target.rel, Type: entryType})
	}
	slices.SortFunc(inputs, func(a, b evidence.InputEntry) int {
		return strings.Compare(a.Src, b.Src)
	})
	return inputs, warnings, nil
}

// stagedPath is the bundle path of an artifact include.
func stagedPath(rel string) string {
	if rel == "." {
		return artifactsDir
	}
	return artifactsDir + "/" + rel
}

// copyTree copies regular files below source. Symlinks, special files, and
// names the manifest cannot record are skipped with a warning. Any absolute
// path listed in exclude is skipped silently. prefix is the bundle path of
// destination.
func copyTree(source, destination, prefix string, exclude []string) ([]string, error) {
	var warnings []string
	err := filepath.WalkDir(source, func(current string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", current, err)
		}
		if slices.Contains(exclude, current) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(source, current)
		if err != nil {
			return err
		}
		if rel != "." {
			if err := manifest.ValidatePath(prefix + "/" + filepath.ToSlash(rel)); err != nil {
				warnings = append(warnings, fmt.Sprintf("skipping %s: %v", current, err))
				if entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		target := filepath.Join(destination, rel)
		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0o750)
		case entry.Type().IsRegular():
			return copyFile(current, target)
		case entry.Type()&fs.ModeSymlink != 0:
			warnings = append(warnings, fmt.Sprintf("skipping symlink %s", current))
		default:
			warnings = append(warnings, fmt.Sprintf("skipping special file %s", current))
		}
		return nil
	})
	return warnings, err
}

func copyFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return fmt.Errorf("create parent of %s: %w", destination, err)
	}
	// #nosec G304 -- source was resolved inside the repository root.
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer func() {
		_ = in.Close()
	}()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}
	mode := os.FileMode(0o644)
	if info.Mode().Perm()&0o111 != 0 {
		mode = 0o755
	}
	// #nosec G304 -- destination lives inside the private staging directory.
	out, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", destination, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", source, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destination, err)
	}
	return nil
}
