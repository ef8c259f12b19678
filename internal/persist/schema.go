package persist

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaVersion is bumped on any incompatible snapshot layout change.
const SchemaVersion = 1

// snapshotSchema rejects structurally broken snapshot files before the
// strict decode ever runs, so a truncated or foreign file falls through to
// the backup instead of producing a half-populated ledger.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "saved_at", "ledger"],
  "properties": {
    "schema_version": {"type": "integer", "minimum": 1},
    "saved_at": {"type": "string"},
    "ledger": {
      "type": "object",
      "required": ["symbol", "version", "capital"],
      "properties": {
        "symbol": {"type": "string", "minLength": 1},
        "version": {"type": "integer", "minimum": 1},
        "capital": {"type": "string"}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("snapshot.json", strings.NewReader(snapshotSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("snapshot.json")
}
