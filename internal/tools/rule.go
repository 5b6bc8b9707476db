package tools

import (
	"context"
	"time"

	"github.com/rendis/shopsync/internal/expressions"
	"github.com/rendis/shopsync/pkg/schema"
)

// Field is one output key of a RuleTool and the expr expression producing it.
type Field struct {
	Name string
	Expr string
}

// RuleTool computes a result object field by field with expr-lang.
// Arguments are top-level variables; each computed field becomes visible to
// the fields after it.
type RuleTool struct {
	name        string
	description string
	fields      []Field
	ttl         time.Duration
	engine      *expressions.ExprEngine
	env         func() map[string]any
}

// RuleOption configures a RuleTool.
type RuleOption func(*RuleTool)

// WithTTL sets the cache TTL of the tool.
func WithTTL(ttl time.Duration) RuleOption {
	return func(t *RuleTool) { t.ttl = ttl }
}

// WithEnv adds variables computed at call time (e.g. the current month).
// Arguments with the same names take precedence.
func WithEnv(fn func() map[string]any) RuleOption {
	return func(t *RuleTool) { t.env = fn }
}

// NewRuleTool compiles every field up front so malformed rules fail at startup.
func NewRuleTool(engine *expressions.ExprEngine, name, description string, fields []Field, opts ...RuleOption) (*RuleTool, error) {
	if len(fields) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "rule tool needs at least one field").WithTool(name)
	}
	for _, f := range fields {
		if err := engine.Compile(f.Expr); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "field %s does not compile", f.Name).
				WithTool(name).WithCause(err)
		}
	}
	t := &RuleTool{name: name, description: description, fields: fields, engine: engine}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *RuleTool) Name() string            { return t.name }
func (t *RuleTool) Description() string     { return t.description }
func (t *RuleTool) CacheTTL() time.Duration { return t.ttl }

// Execute evaluates the fields in declaration order.
func (t *RuleTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	env := make(map[string]any, len(args)+len(t.fields)+2)
	if t.env != nil {
		for k, v := range t.env() {
			env[k] = v
		}
	}
	for k, v := range args {
		env[k] = v
	}

	out := make(map[string]any, len(t.fields))
	for _, f := range t.fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := t.engine.Evaluate(ctx, f.Expr, env)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "field %s", f.Name).
				WithTool(t.name).WithCause(err)
		}
		out[f.Name] = v
		env[f.Name] = v
	}
	return out, nil
}
