package taskgen

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	citiesSchema  = "schemas/cities.json"
	workersSchema = "schemas/workers.json"
)

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range []string{citiesSchema, workersSchema} {
			file, err := schemaFS.Open(name)
			if err != nil {
				compileErr = fmt.Errorf("open schema %s: %w", name, err)
				return
			}
			err = compiler.AddResource(name, file)
			_ = file.Close()
			if err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		compiled = make(map[string]*jsonschema.Schema, 2)
		for _, name := range []string{citiesSchema, workersSchema} {
			schema, err := compiler.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			compiled[name] = schema
		}
	})
	return compiled, compileErr
}

// decodeValidated checks body against the named schema before decoding it into out.
func decodeValidated(schemaName string, body []byte, out any) error {
	set, err := schemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	if err := set[schemaName].Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func readValidated(path, schemaName string, out any) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := decodeValidated(schemaName, body, out); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
