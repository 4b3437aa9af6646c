package tool

import (
	"context"
	"fmt"
	"strings"

	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
)

const (
	SBOMAuto      = "auto"
	SBOMCycloneDX = "cyclonedx"
	SBOMSyft      = "syft"
	SBOMNone      = "none"

	CycloneDXBinary = "cyclonedx-py"
	SyftBinary      = "syft"
)

type SBOMGenerator interface {
	Resolve(preference string) (string, error)
	Generate(ctx context.Context, tool, outPath, repoRoot string) error
}

// SBOM drives cyclonedx-py or syft.
type SBOM struct {
	Runner Runner
}

// ValidSBOMPreference reports whether value names a supported preference.
func ValidSBOMPreference(value string) bool {
	switch value {
	case SBOMAuto, SBOMCycloneDX, SBOMSyft, SBOMNone:
		return true
	}
	return false
}

// FileName is the staged file name for output produced by tool.
func FileName(tool string) string {
	if tool == SBOMSyft {
		return "sbom.syft.json"
	}
	return "sbom.cdx.json"
}

// Resolve maps a preference to the tool that will run. auto prefers
// cyclonedx-py then syft and quietly yields none. An explicitly requested
// tool that is absent yields none plus a dependency_missing error the caller
// may downgrade to a warning.
func (s SBOM) Resolve(preference string) (string, error) {
	preference = strings.ToLower(strings.TrimSpace(preference))
	switch preference {
	case SBOMNone:
		return SBOMNone, nil
	case SBOMAuto:
		if Available(s.Runner, CycloneDXBinary) {
			return SBOMCycloneDX, nil
		}
		if Available(s.Runner, SyftBinary) {
			return SBOMSyft, nil
		}
		return SBOMNone, nil
	case SBOMCycloneDX, SBOMSyft:
		binary := binaryFor(preference)
		if !Available(s.Runner, binary) {
			return SBOMNone, coreerrors.Newf(
				coreerrors.CategoryDependencyMissing,
				"sbom_tool_missing",
				fmt.Sprintf("install %s or pass --sbom none", binary),
				"requested SBOM tool %q not found", preference,
			)
		}
		return preference, nil
	default:
		return SBOMNone, coreerrors.Newf(
			coreerrors.CategoryInvalidInput,
			"invalid_sbom_preference",
			"use one of auto, cyclonedx, syft, none",
			"unknown SBOM preference %q", preference,
		)
	}
}

func (s SBOM) Generate(ctx context.Context, tool, outPath, repoRoot string) error {
	var command Command
	switch tool {
	case SBOMCycloneDX:
		command = Command{
			Name: CycloneDXBinary,
			Args: []string{"environment", "--output-format", "json", "--output-file", outPath},
			Dir:  repoRoot,
		}
	case SBOMSyft:
		command = Command{
			Name: SyftBinary,
			Args: []string{repoRoot, "-o", "cyclonedx-json", "--file", outPath},
			Dir:  repoRoot,
		}
	default:
		return fmt.Errorf("unsupported SBOM tool %q", tool)
	}
	output, err := s.Runner.Run(ctx, command)
	if err != nil {
		return fmt.Errorf("%s: %w", command.Name, err)
	}
	if output.ExitCode != 0 {
		return fmt.Errorf("%s exited %d: %s", command.Name, output.ExitCode, strings.TrimSpace(output.Stderr))
	}
	return nil
}

func binaryFor(tool string) string {
	if tool == SBOMSyft {
		return SyftBinary
	}
	return CycloneDXBinary
}
