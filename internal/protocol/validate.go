package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"microcity.dev/schemas"
)

var (
	commandSchemaOnce sync.Once
	commandSchema     *jsonschema.Schema
	commandSchemaErr  error
)

func compileEmbedded(name string) (*jsonschema.Schema, error) {
	raw, err := schemas.FS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "mem://schemas/" + name
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// DecodeCommand validates raw against the COMMAND schema and decodes it.
func DecodeCommand(raw []byte) (CommandMsg, error) {
	var msg CommandMsg
	commandSchemaOnce.Do(func() {
		commandSchema, commandSchemaErr = compileEmbedded("command.schema.json")
	})
	if commandSchemaErr != nil {
		return msg, fmt.Errorf("command schema: %w", commandSchemaErr)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return msg, err
	}
	if err := commandSchema.Validate(doc); err != nil {
		return msg, err
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}
