package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "mem://voxagent/"

// compileSchemas compiles every embedded request schema, keyed by its base
// name ("start", "position", ...).
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	names, err := fs.Glob(schemaFS, "schemas/*.schema.json")
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		b, err := schemaFS.ReadFile(n)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+strings.TrimPrefix(n, "schemas/"), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		file := strings.TrimPrefix(n, "schemas/")
		s, err := c.Compile(schemaBase + file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n, err)
		}
		out[strings.TrimSuffix(file, ".schema.json")] = s
	}
	return out, nil
}

// decodeValid validates body against s, then decodes it into dst. An empty
// body is treated as {}.
func decodeValid(s *jsonschema.Schema, body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
