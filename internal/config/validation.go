package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// configSchema constrains the value ranges and enumerations the struct
// types cannot express.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "version": {"type": "integer", "minimum": 1, "maximum": 1},
    "engine": {
      "type": "object",
      "properties": {
        "stop_timeout_sec": {"type": "integer", "minimum": 1, "maximum": 300},
        "neural": {
          "type": "object",
          "properties": {
            "inference_limit": {"type": "integer", "minimum": 0, "maximum": 100}
          }
        }
      }
    },
    "input": {
      "type": "object",
      "properties": {
        "debounce_ms": {"type": "integer", "minimum": 0, "maximum": 5000}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "format": {"enum": ["text", "json"]},
        "output": {"enum": ["stdout", "stderr", "file"]}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("config.schema.json", configSchema)

// Validate checks the configuration against the embedded schema plus the
// cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	var errs ValidationErrors

	// Schema validation works on the JSON rendering of the config.
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal for validation: %w", err)
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("config: decode for validation: %w", err)
	}
	if err := compiledSchema.Validate(instance); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			for _, cause := range leafCauses(ve) {
				errs = append(errs, ValidationError{
					Field:   strings.TrimPrefix(cause.InstanceLocation, "/"),
					Message: cause.Message,
				})
			}
		} else {
			return fmt.Errorf("config: schema validation: %w", err)
		}
	}

	if c.Engine.Name == "" && c.Engine.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "engine.name",
			Message: "engine name and path cannot both be empty",
		})
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "history.path",
			Message: "required when history is enabled",
		})
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "required when output is \"file\"",
		})
	}
	if c.Engine.Neural.Enabled && c.Engine.Neural.ModelPath == "" {
		errs = append(errs, ValidationError{
			Field:   "engine.neural.model_path",
			Message: "required when neural conversion is enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// leafCauses flattens a jsonschema validation error into its most specific
// causes.
func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}
