package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Structural schema for pipeline files, checked before decoding so that a
// misspelled or misplaced key fails with a pointed error instead of being
// silently dropped by the yaml decoder.
const pipelineSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "stages"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "timeout": { "type": "string" },
    "agent": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "type": { "type": "string", "enum": ["shell", "docker"] },
        "image": { "type": "string" }
      }
    },
    "repository": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": { "type": "string" },
        "branch": { "type": "string" }
      }
    },
    "credential": { "type": "string" },
    "triggers": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "cron": { "type": "string" }
      }
    },
    "variables": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "steps"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "variables": {
            "type": "object",
            "additionalProperties": { "type": "string" }
          },
          "steps": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "additionalProperties": false,
              "required": ["name"],
              "properties": {
                "name": { "type": "string", "minLength": 1 },
                "variables": {
                  "type": "object",
                  "additionalProperties": { "type": "string" }
                },
                "script": { "type": "string" },
                "actions": {
                  "type": "array",
                  "items": { "type": "string" }
                }
              }
            }
          }
        }
      }
    },
    "post": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "success": { "type": "string" },
        "failure": { "type": "string" },
        "always": { "type": "string" }
      }
    },
    "artifacts": {
      "type": "array",
      "items": { "type": "string" }
    }
  }
}`

// Checks the raw yaml document against the pipeline schema
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse pipeline yaml: %v", err)
	}

	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert pipeline to json for schema check: %v", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(pipelineSchema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return fmt.Errorf("failed to run schema validation: %v", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("pipeline file is not valid: %v", strings.Join(msgs, "; "))
	}

	return nil
}
