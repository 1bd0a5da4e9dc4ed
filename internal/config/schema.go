package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tjfontaine/llm-governor/internal/domain"
)

// policySchema is the structural contract for the policy block. Semantic
// checks (duplicate ids, message defaults) happen in validatePolicy.
const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "category", "threshold", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "category": {
            "enum": ["injection", "hallucination", "unsafe_content", "data_leakage", "aggregate"]
          },
          "threshold": {"type": "number", "minimum": 0, "maximum": 1},
          "action": {"enum": ["allow", "block", "fallback", "rewrite"]}
        },
        "additionalProperties": false
      }
    },
    "blocked_message": {"type": "string"},
    "fallback_message": {"type": "string"},
    "rewrite_prefix": {"type": "string"}
  },
  "additionalProperties": false
}`

var compiledPolicySchema = mustCompilePolicySchema()

func mustCompilePolicySchema() *jsonschema.Schema {
	var schemaObj any
	if err := json.Unmarshal([]byte(policySchema), &schemaObj); err != nil {
		panic(fmt.Sprintf("policy schema is not valid JSON: %v", err))
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("policy.json", schemaObj); err != nil {
		panic(fmt.Sprintf("policy schema: %v", err))
	}
	sch, err := c.Compile("policy.json")
	if err != nil {
		panic(fmt.Sprintf("policy schema: %v", err))
	}
	return sch
}

// validatePolicyDocument checks the raw policy block against the schema. The
// block is round-tripped through JSON so YAML scalar types line up with what
// the validator expects.
func validatePolicyDocument(raw any) error {
	if raw == nil {
		return nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return &domain.PolicyConfigError{Reason: fmt.Sprintf("policy block is not encodable: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return &domain.PolicyConfigError{Reason: fmt.Sprintf("policy block is not valid JSON: %v", err)}
	}

	if err := compiledPolicySchema.Validate(doc); err != nil {
		return &domain.PolicyConfigError{Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}
	return nil
}
