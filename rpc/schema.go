package rpc

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed preload.schema.json
var preloadSchemaJSON []byte

var (
	preloadSchemaOnce sync.Once
	preloadSchema     *jsonschema.Schema
	preloadSchemaErr  error
)

func compiledPreloadSchema() (*jsonschema.Schema, error) {
	preloadSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("preload.schema.json", bytes.NewReader(preloadSchemaJSON)); err != nil {
			preloadSchemaErr = err
			return
		}
		preloadSchema, preloadSchemaErr = compiler.Compile("preload.schema.json")
	})
	return preloadSchema, preloadSchemaErr
}

// ValidatePreLoad checks a pre_load body ({"new_data":[...]}) before it is
// decoded, so malformed batches are refused with a precise reason.
func ValidatePreLoad(raw []byte) error {
	schema, err := compiledPreloadSchema()
	if err != nil {
		return fmt.Errorf("compile pre_load schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
