package projectconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

const DefaultPath = ".evidence-pack/config.yaml"

type Config struct {
	Pack   PackDefaults   `yaml:"pack"`
	Verify VerifyDefaults `yaml:"verify"`
}

// PackDefaults feed the pack command. Pointer fields distinguish an explicit
// false from an unset key.
type PackDefaults struct {
	Out              string   `yaml:"out"`
	BundleName       string   `yaml:"bundle_name"`
	Include          []string `yaml:"include"`
	SBOM             string   `yaml:"sbom"`
	CollectGit       *bool    `yaml:"collect_git"`
	CollectPipFreeze *bool    `yaml:"collect_pip_freeze"`
	CosignSign       *bool    `yaml:"cosign_sign"`
	CosignIdentity   string   `yaml:"cosign_identity"`
	CosignIssuer     string   `yaml:"cosign_issuer"`
}

type VerifyDefaults struct {
	Identity string `yaml:"identity"`
	Issuer   string `yaml:"issuer"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.UnmarshalWithOptions(content, &configuration, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Pack.Out = strings.TrimSpace(configuration.Pack.Out)
	configuration.Pack.BundleName = strings.TrimSpace(configuration.Pack.BundleName)
	configuration.Pack.SBOM = strings.ToLower(strings.TrimSpace(configuration.Pack.SBOM))
	configuration.Pack.CosignIdentity = strings.TrimSpace(configuration.Pack.CosignIdentity)
	configuration.Pack.CosignIssuer = strings.TrimSpace(configuration.Pack.CosignIssuer)
	includes := configuration.Pack.Include[:0]
	for _, include := range configuration.Pack.Include {
		if trimmed := strings.TrimSpace(include); trimmed != "" {
			includes = append(includes, trimmed)
		}
	}
	configuration.Pack.Include = includes
	configuration.Verify.Identity = strings.TrimSpace(configuration.Verify.Identity)
	configuration.Verify.Issuer = strings.TrimSpace(configuration.Verify.Issuer)
}

func (configuration Config) validate() error {
	switch configuration.Pack.SBOM {
	case "", "auto", "cyclonedx", "syft", "none":
	default:
		return fmt.Errorf("project config pack.sbom must be one of auto, cyclonedx, syft, none (got %q)", configuration.Pack.SBOM)
	}
	if name := configuration.Pack.BundleName; name != "" && strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("project config pack.bundle_name must be a file name, not a path (got %q)", name)
	}
	return nil
}
