package event

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const contractURL = "https://casper-events.local/schema/envelope.json"

//go:embed contract.schema.json
var contractSchema []byte

// ContractSchema returns the JSON Schema that every marshaled Envelope
// satisfies.
func ContractSchema() []byte { return bytes.Clone(contractSchema) }

var compiledContract = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(contractURL, bytes.NewReader(contractSchema)); err != nil {
		return nil, fmt.Errorf("load contract schema: %w", err)
	}
	return c.Compile(contractURL)
})

// CheckContract validates a marshaled Envelope against the output contract.
func CheckContract(b []byte) error {
	schema, err := compiledContract()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("envelope contract: %w", err)
	}
	return nil
}
