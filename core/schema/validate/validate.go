package validate

import (
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/OrygnsCode/ci-evidence-pack/schemas"
)

const (
	SchemaMetadata     = "metadata"
	SchemaRun          = "run"
	SchemaGit          = "git"
	SchemaInputs       = "inputs"
	SchemaCreateResult = "create_result"
	SchemaVerifyResult = "verify_result"
	SchemaDiffResult   = "diff_result"
)

// Names lists every embedded schema.
var Names = []string{
	SchemaMetadata,
	SchemaRun,
	SchemaGit,
	SchemaInputs,
	SchemaCreateResult,
	SchemaVerifyResult,
	SchemaDiffResult,
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*jsonschema.Schema{}
)

// ValidateJSON checks data against the embedded schema called name.
func ValidateJSON(name string, data []byte) error {
	schema, err := loadSchema(name)
	if err != nil {
		return err
	}
	return validateJSON(name, schema, data)
}

// CompileAll compiles every embedded schema and reports the first failure.
func CompileAll() error {
	for _, name := range Names {
		if _, err := loadSchema(name); err != nil {
			return err
		}
	}
	return nil
}

func ValidateJSONFile(name, jsonPath string) error {
	schema, err := loadSchema(name)
	if err != nil {
		return err
	}
	// #nosec G304 -- caller provides an explicit local document path.
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("read json: %w", err)
	}
	return validateJSON(name, schema, data)
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if schema, ok := compiled[name]; ok {
		return schema, nil
	}
	data, err := schemas.FS.ReadFile(path.Join("v1", name+".schema.json"))
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	compiled[name] = schema
	return schema, nil
}

func validateJSON(name string, schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%s schema validation failed: %v", name, result.Errors)
}
