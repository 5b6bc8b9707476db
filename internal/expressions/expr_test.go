package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want any
	}{
		{"literal", "42", nil, 42},
		{"arithmetic", "price * 2", map[string]any{"price": 10.5}, 21.0},
		{"nil coalescing", "price ?? 100.0", map[string]any{}, 100.0},
		{"optional chaining", "previous?.score ?? 0.5", map[string]any{}, 0.5},
		{"nested optional", "agent_results?.trend?.trend_score ?? 0.5",
			map[string]any{"agent_results": map[string]any{"trend": map[string]any{"trend_score": 0.8}}}, 0.8},
		{"ternary chain", `points >= 1000 ? "gold" : points >= 100 ? "silver" : "bronze"`, map[string]any{"points": 250}, "silver"},
		{"count with closure", `count(["great", "love"], (text ?? "") contains #)`, map[string]any{"text": "i love it"}, 1},
		{"in operator", "month in [12, 1, 2]", map[string]any{"month": 1}, true},
		{"lower", `lower(text ?? "")`, map[string]any{"text": "HeLLo"}, "hello"},
		{"round", "round(12.3456 * 100) / 100", nil, 12.35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(ctx, tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExpr_DynamicTypesShareProgram(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "amount * 10", map[string]any{"amount": 3})
	require.NoError(t, err)
	assert.Equal(t, 30, out)

	out, err = e.Evaluate(ctx, "amount * 10", map[string]any{"amount": 2.5})
	require.NoError(t, err)
	assert.Equal(t, 25.0, out)
	assert.Equal(t, 1, e.cache.size())
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	assert.Error(t, e.Compile("1 +"))

	_, err = e.Evaluate(ctx, `items[5]`, map[string]any{"items": []any{1}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "n + 1", map[string]any{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n+1, out)
		}(i)
	}
	wg.Wait()
}
