// Package validation checks interaction, workflow configuration and agent
// configuration payloads before they reach the coordinator. Structural checks
// use JSON Schema; semantic checks collect errors and warnings.
package validation

import "github.com/rendis/shopsync/pkg/schema"

// Validator runs structural then semantic validation.
type Validator struct {
	jsonSchema *JSONSchemaValidator
	tools      ToolLookup
}

// New creates a Validator. tools may be nil to skip tool existence checks.
func New(tools ToolLookup) (*Validator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{jsonSchema: jsv, tools: tools}, nil
}

// Interaction validates an inbound interaction.
func (v *Validator) Interaction(userID string, in schema.Interaction) error {
	return v.jsonSchema.ValidateInteraction(userID, in)
}

// WorkflowConfig returns every issue found. Structural errors short-circuit.
func (v *Validator) WorkflowConfig(cfg schema.WorkflowConfig) *schema.ValidationResult {
	if err := v.jsonSchema.ValidateWorkflowConfig(cfg); err != nil {
		return structuralResult(err)
	}
	return validateWorkflowSemantic(cfg)
}

// CheckWorkflowConfig is WorkflowConfig reduced to an error. Warnings pass;
// an unknown agent type surfaces as CONFIG_NOT_FOUND.
func (v *Validator) CheckWorkflowConfig(cfg schema.WorkflowConfig) error {
	return v.WorkflowConfig(cfg).ToError()
}

// AgentParams validates configure_agent parameters.
func (v *Validator) AgentParams(params map[string]any) error {
	if err := v.jsonSchema.ValidateAgentParams(params); err != nil {
		return err
	}
	return validateAgentTools(params, v.tools).ToError()
}

// structuralResult converts a schema error into a ValidationResult, one issue per violation.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	se, ok := err.(*schema.ShopSyncError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := se.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, se.Message)
	return result
}
