package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OrygnsCode/ci-evidence-pack/core/collect"
	"github.com/OrygnsCode/ci-evidence-pack/core/schema/validate"
	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

type Options struct {
	WorkDir         string
	OutputDir       string
	ProducerVersion string
	Runner          tool.Runner
	Getenv          func(string) string
}

type Result struct {
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
}

// Run inspects the local environment for everything pack and verify rely on.
// Missing optional tools warn; only conditions that make pack impossible fail.
func Run(opts Options) Result {
	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		workDir = "."
	}
	outputDir := strings.TrimSpace(opts.OutputDir)
	if outputDir == "" {
		outputDir = "dist"
	}
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(workDir, outputDir)
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	runner := opts.Runner
	if runner == nil {
		runner = tool.ExecRunner{}
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	checks := []Check{
		checkWorkDirWritable(workDir),
		checkOutputDir(outputDir),
		checkSchemas(),
		checkBinary(runner, "git", "git metadata collection", "install git, or pass --no-collect-git"),
		checkBinary(runner, tool.CosignBinary, "--cosign-sign and signature verification", "install cosign: https://docs.sigstore.dev/cosign/system_config/installation/"),
		checkSBOMTools(runner),
		checkPython(runner),
		checkSourceDateEpoch(getenv),
	}

	failed := 0
	warned := 0
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case StatusFail:
			failed++
		case StatusWarn:
			warned++
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := StatusPass
	if failed > 0 {
		status = StatusFail
	} else if warned > 0 {
		status = StatusWarn
	}

	sort.Strings(fixCommands)
	return Result{
		ProducerVersion: producerVersion,
		Status:          status,
		Summary:         fmt.Sprintf("doctor: status=%s failed=%d warned=%d", status, failed, warned),
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func checkWorkDirWritable(workDir string) Check {
	info, err := os.Stat(workDir)
	if err != nil {
		return Check{
			Name:       "workdir",
			Status:     StatusFail,
			Message:    fmt.Sprintf("workdir not accessible: %v", err),
			FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(workDir)),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "workdir",
			Status:  StatusFail,
			Message: "workdir is not a directory",
		}
	}
	if err := probeWrite(workDir); err != nil {
		return Check{
			Name:       "workdir",
			Status:     StatusFail,
			Message:    fmt.Sprintf("workdir not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(workDir)),
		}
	}
	return Check{Name: "workdir", Status: StatusPass, Message: "workdir is writable"}
}

func checkOutputDir(outputDir string) Check {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:    "output_dir",
				Status:  StatusPass,
				Message: "output directory will be created by pack",
			}
		}
		return Check{
			Name:    "output_dir",
			Status:  StatusFail,
			Message: fmt.Sprintf("output directory check failed: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "output_dir",
			Status:  StatusFail,
			Message: "output path is not a directory",
		}
	}
	if err := probeWrite(outputDir); err != nil {
		return Check{
			Name:       "output_dir",
			Status:     StatusFail,
			Message:    fmt.Sprintf("output directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(outputDir)),
		}
	}
	return Check{Name: "output_dir", Status: StatusPass, Message: "output directory is writable"}
}

func probeWrite(dir string) error {
	probe, err := os.CreateTemp(dir, ".ci-evidence-pack-doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func checkSchemas() Check {
	if err := validate.CompileAll(); err != nil {
		return Check{Name: "schemas", Status: StatusFail, Message: fmt.Sprintf("embedded schemas invalid: %v", err)}
	}
	return Check{Name: "schemas", Status: StatusPass, Message: "embedded schemas compile"}
}

func checkBinary(runner tool.Runner, name, usedFor, fix string) Check {
	if path, err := runner.LookPath(name); err == nil {
		return Check{Name: name, Status: StatusPass, Message: fmt.Sprintf("%s found at %s", name, path)}
	}
	return Check{
		Name:       name,
		Status:     StatusWarn,
		Message:    fmt.Sprintf("%s not found; %s unavailable", name, usedFor),
		FixCommand: fix,
	}
}

func checkSBOMTools(runner tool.Runner) Check {
	var found []string
	for _, name := range []string{tool.CycloneDXBinary, tool.SyftBinary} {
		if tool.Available(runner, name) {
			found = append(found, name)
		}
	}
	if len(found) == 0 {
		return Check{
			Name:       "sbom_tools",
			Status:     StatusWarn,
			Message:    "no SBOM tool found; bundles will carry no SBOM",
			FixCommand: "pip install cyclonedx-bom",
		}
	}
	return Check{Name: "sbom_tools", Status: StatusPass, Message: "SBOM tools available: " + strings.Join(found, ", ")}
}

func checkPython(runner tool.Runner) Check {
	for _, name := range collect.PythonBinaries {
		if tool.Available(runner, name) {
			return Check{Name: "python", Status: StatusPass, Message: name + " available for pip freeze"}
		}
	}
	return Check{
		Name:    "python",
		Status:  StatusWarn,
		Message: "no python interpreter found; pip freeze collection unavailable",
	}
}

func checkSourceDateEpoch(getenv func(string) string) Check {
	raw := strings.TrimSpace(getenv("SOURCE_DATE_EPOCH"))
	if raw == "" {
		return Check{Name: "source_date_epoch", Status: StatusPass, Message: "SOURCE_DATE_EPOCH unset; bundles use epoch 0"}
	}
	epoch, err := collect.SourceDateEpoch(getenv)
	if err != nil {
		return Check{
			Name:       "source_date_epoch",
			Status:     StatusWarn,
			Message:    err.Error(),
			FixCommand: `export SOURCE_DATE_EPOCH="$(git log -1 --format=%ct)"`,
		}
	}
	return Check{Name: "source_date_epoch", Status: StatusPass, Message: fmt.Sprintf("SOURCE_DATE_EPOCH=%d", epoch)}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
