package backend

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed execute_response.schema.json
var executeResponseSchemaJSON []byte

const executeResponseSchemaURL = "execute_response.schema.json"

var (
	executeResponseSchema *jsonschema.Schema
	compileOnce           sync.Once
	compileErr            error
)

// compileSchema компилирует встроенную схему один раз.
func compileSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(executeResponseSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal execute response schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(executeResponseSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add execute response schema: %w", err)
			return
		}

		executeResponseSchema, err = compiler.Compile(executeResponseSchemaURL)
		if err != nil {
			compileErr = fmt.Errorf("compile execute response schema: %w", err)
		}
	})
	return compileErr
}

// ValidateExecuteResponse проверяет тело ответа execute по схеме.
func ValidateExecuteResponse(body []byte) error {
	if err := compileSchema(); err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrMalformedResponse, err)
	}

	if err := executeResponseSchema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
