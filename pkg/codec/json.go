package codec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Sternrassler/userdata-client/pkg/dataset"
)

const textSchemaURL = "https://schemas.userdata.local/snapshot.schema.json"

//go:embed snapshot.schema.json
var textSchemaDoc []byte

var (
	textSchemaOnce sync.Once
	textSchema     *jsonschema.Schema
	textSchemaErr  error
)

// compiledTextSchema compiles the embedded JSON Schema on first use.
func compiledTextSchema() (*jsonschema.Schema, error) {
	textSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(textSchemaDoc))
		if err != nil {
			textSchemaErr = fmt.Errorf("parse snapshot schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(textSchemaURL, doc); err != nil {
			textSchemaErr = fmt.Errorf("add snapshot schema: %w", err)
			return
		}
		textSchema, textSchemaErr = c.Compile(textSchemaURL)
	})
	return textSchema, textSchemaErr
}

// decodeStructuredText validates the document shape first so that missing
// or mistyped fields are rejected instead of silently zero-filled.
func decodeStructuredText(b []byte) (*dataset.Snapshot, error) {
	sch, err := compiledTextSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, err
	}

	return snapshotFromDocument(inst)
}

// snapshotFromDocument reads the validated document by exact key. The
// schema guarantees every shape asserted here.
func snapshotFromDocument(inst any) (*dataset.Snapshot, error) {
	doc := inst.(map[string]any)

	total, err := documentInt(doc, "total")
	if err != nil {
		return nil, err
	}

	items := doc["users"].([]any)
	users := make([]dataset.UserRecord, len(items))
	for i, item := range items {
		u := item.(map[string]any)
		id, err := documentInt(u, "id")
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		age, err := documentInt(u, "age")
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		users[i] = dataset.UserRecord{
			ID:    id,
			Name:  u["name"].(string),
			Email: u["email"].(string),
			Age:   age,
			City:  u["city"].(string),
		}
	}

	return &dataset.Snapshot{
		Users:     users,
		Total:     total,
		Timestamp: doc["timestamp"].(string),
	}, nil
}

// documentInt converts a validated integer to int64. Integral values
// written with a fraction or exponent ("30.0", "3e1") are accepted.
func documentInt(obj map[string]any, key string) (int64, error) {
	n := obj[key].(json.Number)
	if v, err := n.Int64(); err == nil {
		return v, nil
	}

	r, ok := new(big.Rat).SetString(n.String())
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return 0, fmt.Errorf("field %s: %s out of int64 range", key, n)
	}
	return r.Num().Int64(), nil
}

func encodeStructuredText(s *dataset.Snapshot) ([]byte, error) {
	out := *s
	if out.Users == nil {
		out.Users = []dataset.UserRecord{}
	}
	return json.Marshal(&out)
}
