package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func nullable(t string, extra map[string]any) map[string]any {
	m := map[string]any{"type": []string{t, "null"}}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// StatusJSONSchema describes GET /status/{task_id}. Unknown fields are allowed so the
// backend can grow the payload without breaking polling.
func StatusJSONSchema() map[string]any {
	count := map[string]any{"minimum": 0}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":             nullable("string", nil),
			"progress":           nullable("number", nil),
			"processed_records":  nullable("integer", count),
			"total_records":      nullable("integer", count),
			"successful_records": nullable("integer", count),
			"error_records":      nullable("integer", count),
			"current_processing": nullable("string", nil),
			"logs":               map[string]any{"type": []string{"array", "null"}, "items": map[string]any{"type": "string"}},
			"result_file_url":    nullable("string", nil),
			"message":            nullable("string", nil),
		},
	}
}

// SubmitJSONSchema describes a successful POST /procesar body. task_id presence is
// checked by the caller so the error can say exactly what was missing.
func SubmitJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id":                nullable("string", nil),
			"total_records":          nullable("integer", map[string]any{"minimum": 0}),
			"estimated_time_minutes": nullable("number", map[string]any{"minimum": 0}),
		},
	}
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func mustCompile(name string, schemaMap map[string]any) *jsonschema.Schema {
	s, err := compileSchema(name, schemaMap)
	if err != nil {
		panic(err)
	}
	return s
}

var (
	statusSchema = mustCompile("status.json", StatusJSONSchema())
	submitSchema = mustCompile("submit.json", SubmitJSONSchema())
)

// validateJSON checks raw against schema and returns the decoded generic value's error.
func validateJSON(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
