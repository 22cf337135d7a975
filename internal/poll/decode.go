package poll

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dharsanguruparan/dropwatch/internal/model"
)

// resultSchema accepts any object that carries at least one displayable
// field. Fields that are present must have the expected types.
const resultSchema = `{
  "type": "object",
  "properties": {
    "kind": {"type": "string"},
    "headline": {"type": "string"},
    "text": {"type": "string"},
    "downloadUrl": {"type": "string"},
    "downloadUrls": {"type": "array", "items": {"type": "string"}},
    "fileName": {"type": "string"},
    "fileNames": {"type": "array", "items": {"type": "string"}},
    "metadata": {"type": "object"}
  },
  "anyOf": [
    {"required": ["kind"]},
    {"required": ["headline"]},
    {"required": ["text"]},
    {"required": ["downloadUrl"]},
    {"required": ["downloadUrls"]}
  ]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("result.json", strings.NewReader(resultSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("result.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// DecodeResult turns a raw result payload into a NormalizedResult. Three
// shapes are accepted, tried in order:
//
//  1. an object carrying "kind", used as-is;
//  2. a JSON string holding such an object, parsed once;
//  3. an envelope keyed by job id, {"<id>": {"status": ..., "result_data": ...}},
//     where result_data may itself be a JSON string.
//
// For envelopes the entry under jobID wins; otherwise the first entry (in key
// order) that carries result_data is used. No defaults are filled in.
func DecodeResult(raw json.RawMessage, jobID string) (model.NormalizedResult, error) {
	var out model.NormalizedResult
	if len(raw) == 0 {
		return out, errors.New("empty result payload")
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return out, fmt.Errorf("decode result payload: %w", err)
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return out, fmt.Errorf("decode embedded result: %w", err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return out, fmt.Errorf("result payload is %T, want object", v)
	}

	if _, hasKind := obj["kind"]; !hasKind {
		inner, err := unwrapEnvelope(obj, jobID)
		if err != nil {
			return out, err
		}
		obj = inner
	}

	sch, err := compiledSchema()
	if err != nil {
		return out, err
	}
	if err := sch.Validate(obj); err != nil {
		return out, fmt.Errorf("result does not match schema: %w", err)
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return out, fmt.Errorf("re-encode result: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode normalized result: %w", err)
	}
	return out, nil
}

func unwrapEnvelope(env map[string]any, jobID string) (map[string]any, error) {
	var entry map[string]any
	if e, ok := env[jobID].(map[string]any); ok && jobID != "" {
		entry = e
	} else {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if e, ok := env[k].(map[string]any); ok && e["result_data"] != nil {
				entry = e
				break
			}
		}
	}
	if entry == nil {
		return nil, errors.New("no kind and no keyed result_data")
	}

	data := entry["result_data"]
	if s, ok := data.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, fmt.Errorf("decode keyed result_data: %w", err)
		}
		data = parsed
	}
	inner, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("keyed result_data is %T, want object", data)
	}
	return inner, nil
}
