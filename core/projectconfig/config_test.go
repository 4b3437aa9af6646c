package projectconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAllowMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	configuration, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load allow missing: %v", err)
	}
	if configuration.Pack.Out != "" || configuration.Pack.CollectGit != nil {
		t.Fatalf("expected empty configuration, got %#v", configuration)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Fatal("expected missing required config error")
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load("  ", true); err == nil {
		t.Fatal("expected path required error")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	configuration, err := Load(writeConfig(t, "\n  \n"), false)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(configuration.Pack.Include) != 0 {
		t.Fatalf("expected empty include list")
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
pack:
  out: " build/evidence "
  bundle_name: " evidence.tar.gz "
  include:
    - " dist "
    - ""
    - "README.md"
  sbom: " SYFT "
  collect_git: false
  collect_pip_freeze: true
  cosign_sign: true
  cosign_identity: " release@example.com "
  cosign_issuer: " https://token.actions.githubusercontent.com "
verify:
  identity: " release@example.com "
  issuer: " https://token.actions.githubusercontent.com "
`)

	configuration, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load parse: %v", err)
	}
	if configuration.Pack.Out != "build/evidence" {
		t.Fatalf("unexpected out %q", configuration.Pack.Out)
	}
	if configuration.Pack.BundleName != "evidence.tar.gz" {
		t.Fatalf("unexpected bundle_name %q", configuration.Pack.BundleName)
	}
	if strings.Join(configuration.Pack.Include, ",") != "dist,README.md" {
		t.Fatalf("unexpected include %v", configuration.Pack.Include)
	}
	if configuration.Pack.SBOM != "syft" {
		t.Fatalf("unexpected sbom %q", configuration.Pack.SBOM)
	}
	if configuration.Pack.CollectGit == nil || *configuration.Pack.CollectGit {
		t.Fatalf("expected collect_git=false")
	}
	if configuration.Pack.CollectPipFreeze == nil || !*configuration.Pack.CollectPipFreeze {
		t.Fatalf("expected collect_pip_freeze=true")
	}
	if configuration.Pack.CosignSign == nil || !*configuration.Pack.CosignSign {
		t.Fatalf("expected cosign_sign=true")
	}
	if configuration.Verify.Identity != "release@example.com" {
		t.Fatalf("unexpected verify identity %q", configuration.Verify.Identity)
	}
	if configuration.Verify.Issuer != "https://token.actions.githubusercontent.com" {
		t.Fatalf("unexpected verify issuer %q", configuration.Verify.Issuer)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"unknown_sbom":     "pack:\n  sbom: spdx\n",
		"bundle_name_path": "pack:\n  bundle_name: ../evil.tar.gz\n",
		"unknown_key":      "pack:\n  outdir: dist\n",
		"malformed":        "pack: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content), false); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}
