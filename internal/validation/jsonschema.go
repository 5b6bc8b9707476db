package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/shopsync/pkg/schema"
)

const schemaBase = "https://shopsync.dev/schemas/"

// interactionSchemaJSON validates the body of an inbound user interaction.
const interactionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["user_id", "interaction"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1, "maxLength": 256},
    "interaction": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1, "maxLength": 128},
        "data": {"type": ["object", "null"]}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

// workflowConfigSchemaJSON validates a WorkflowConfig. Agent names are
// checked semantically so unknown types report CONFIG_NOT_FOUND.
const workflowConfigSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["enabled_agents", "max_steps", "timeout_seconds"],
  "properties": {
    "enabled_agents": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "workflow_type": {"type": "string", "enum": ["parallel", "sequential"]},
    "coordination_strategy": {"type": "string"},
    "max_steps": {"type": "integer", "minimum": 1},
    "timeout_seconds": {"type": "number", "exclusiveMinimum": 0},
    "monitoring_interval": {"type": "number", "minimum": 0},
    "failure_policy": {"type": "string", "enum": ["", "fail_fast", "continue_independent"]},
    "max_concurrency": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

// agentParamsSchemaJSON validates configure_agent parameters.
const agentParamsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "properties": {
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "max_tokens": {"type": "integer", "minimum": 1, "maximum": 32768},
    "model_name": {"type": "string", "minLength": 1},
    "memory_type": {"enum": ["conversation_buffer", "conversation_buffer_window", "none"]},
    "input_guard": {"type": "string"},
    "active": {"type": "boolean"},
    "tools": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    }
  },
  "additionalProperties": false
}`

// JSONSchemaValidator holds the compiled payload schemas. Safe for concurrent use.
type JSONSchemaValidator struct {
	interaction    *jsonschema.Schema
	workflowConfig *jsonschema.Schema
	agentParams    *jsonschema.Schema
}

// NewJSONSchemaValidator compiles every payload schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compile := func(name, src string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		url := schemaBase + name + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		return compiled, nil
	}

	var err error
	v := &JSONSchemaValidator{}
	if v.interaction, err = compile("interaction", interactionSchemaJSON); err != nil {
		return nil, err
	}
	if v.workflowConfig, err = compile("workflow_config", workflowConfigSchemaJSON); err != nil {
		return nil, err
	}
	if v.agentParams, err = compile("agent_params", agentParamsSchemaJSON); err != nil {
		return nil, err
	}
	return v, nil
}

// ValidateInteraction checks a user id and interaction pair.
func (v *JSONSchemaValidator) ValidateInteraction(userID string, in schema.Interaction) error {
	return validateDoc(v.interaction, map[string]any{"user_id": userID, "interaction": in})
}

// ValidateWorkflowConfig checks the shape of a workflow configuration.
func (v *JSONSchemaValidator) ValidateWorkflowConfig(cfg schema.WorkflowConfig) error {
	return validateDoc(v.workflowConfig, cfg)
}

// ValidateAgentParams checks configure_agent parameters.
func (v *JSONSchemaValidator) ValidateAgentParams(params map[string]any) error {
	if params == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent parameters are required")
	}
	return validateDoc(v.agentParams, params)
}

func validateDoc(s *jsonschema.Schema, v any) error {
	doc, err := toJSONValue(v)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "payload is not JSON-serializable").WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toShopSyncError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toShopSyncError flattens a jsonschema.ValidationError into one error
// listing every leaf violation.
func toShopSyncError(err error) *schema.ShopSyncError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations returns "location: message" for every leaf of the error tree.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
