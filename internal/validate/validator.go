// Package validate checks request bodies against the JSON Schemas embedded
// under schemas/, one per request kind.
package validate

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AkibHossainOmi/TutorMove-sub000/internal/apperr"
)

const (
	Boost      = "boost"
	Purchase   = "purchase"
	Transfer   = "transfer"
	Activation = "activation"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema. The schema name is its file name
// without the extension.
func New() (*Validator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		schemas[name], err = jsonschema.CompileString("https://tutormove.dev/schemas/"+name+".json", string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate rejects body unless it is JSON matching the named schema. Both
// malformed JSON and schema violations wrap apperr.ErrValidation.
func (v *Validator) Validate(name string, body []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", apperr.ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}
