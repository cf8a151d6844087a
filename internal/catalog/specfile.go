package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed catalog.schema.json
var catalogSchemaJSON string

var catalogSchema = jsonschema.MustCompileString("https://inaiurai.dev/schemas/catalog.json", catalogSchemaJSON)

// ErrInvalidCatalog can be used with errors.Is to detect a catalog file that
// does not match the schema.
var ErrInvalidCatalog = errors.New("invalid catalog file")

// ParseSpecs validates a JSON catalog file against the catalog schema and
// decodes it.
func ParseSpecs(raw []byte) ([]PackageSpec, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := catalogSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	var specs []PackageSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return specs, nil
}
