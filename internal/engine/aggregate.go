package engine

import (
	"context"

	"github.com/rendis/shopsync/internal/expressions"
)

// resultProjection maps one response key to a jq program over the agent
// outputs, which are keyed by agent type.
type resultProjection struct {
	Key  string
	Expr string
}

// resultProjections are the fixed top-level keys of a workflow result.
// A missing agent output projects to {}.
var resultProjections = []resultProjection{
	{"recommendations", `.personalization // {}`},
	{"pricing", `.pricing // {}`},
	{"promotions", `.promotion // {}`},
	{"support", `.customer_support // {}`},
	{"inventory", `.inventory // {}`},
	{"trends", `.trend // {}`},
	{"loyalty", `.loyalty // {}`},
}

// ResultKeys lists the top-level keys every successful result carries.
func ResultKeys() []string {
	keys := make([]string, len(resultProjections))
	for i, p := range resultProjections {
		keys[i] = p.Key
	}
	return keys
}

// aggregate flattens per-agent outputs into the fixed result shape.
func aggregate(ctx context.Context, jq *expressions.GoJQEngine, outputs map[string]any) (map[string]any, error) {
	normalized, err := expressions.Normalize(outputs)
	if err != nil {
		return nil, err
	}
	data, _ := normalized.(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	out := make(map[string]any, len(resultProjections))
	for _, p := range resultProjections {
		v, err := jq.Evaluate(ctx, p.Expr, data)
		if err != nil {
			return nil, err
		}
		if v == nil {
			v = map[string]any{}
		}
		out[p.Key] = v
	}
	return out, nil
}
