package hooks

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	authResultSchema     *jsonschema.Schema
	requestOverrideSchema *jsonschema.Schema
	eventsSchema         *jsonschema.Schema
	stateDeltaSchema     *jsonschema.Schema
)

func init() {
	compiler := jsonschema.NewCompiler()
	load := func(name string) {
		data, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			panic(fmt.Sprintf("hooks: embedded schema %s: %v", name, err))
		}
		url := "mem://hel/hooks/" + name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("hooks: add schema resource %s: %v", name, err))
		}
	}
	load("auth_result")
	load("request_override")
	load("events")
	load("state_delta")

	compile := func(name string) *jsonschema.Schema {
		s, err := compiler.Compile("mem://hel/hooks/" + name + ".json")
		if err != nil {
			panic(fmt.Sprintf("hooks: compile schema %s: %v", name, err))
		}
		return s
	}
	authResultSchema = compile("auth_result")
	requestOverrideSchema = compile("request_override")
	eventsSchema = compile("events")
	stateDeltaSchema = compile("state_delta")
}
