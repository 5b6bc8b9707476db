package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/internal/expressions"
)

func TestAggregate_ProjectsAgentOutputs(t *testing.T) {
	outputs := map[string]any{
		"personalization":  map[string]any{"items": []string{"shoes-bestsellers"}},
		"pricing":          map[string]any{"optimal_price": 212},
		"promotion":        map[string]any{"campaign": map[string]any{"discount": 0.15}},
		"customer_support": map[string]any{"ticket": map[string]any{"status": "closed"}},
		"inventory":        map[string]any{"reorder": true},
		"trend":            map[string]any{"trends": map[string]any{"direction": "rising"}},
		"loyalty":          map[string]any{"tier": "silver"},
		"data_collection":  map[string]any{"valid": true},
	}

	got, err := aggregate(context.Background(), expressions.NewGoJQEngine(), outputs)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"items": []any{"shoes-bestsellers"}}, got["recommendations"])
	assert.Equal(t, map[string]any{"optimal_price": float64(212)}, got["pricing"])
	assert.Equal(t, map[string]any{"ticket": map[string]any{"status": "closed"}}, got["support"])
	assert.Equal(t, "silver", got["loyalty"].(map[string]any)["tier"])
	assert.NotContains(t, got, "data_collection")
	assert.Len(t, got, len(ResultKeys()))
}

func TestAggregate_MissingOutputsAreEmpty(t *testing.T) {
	got, err := aggregate(context.Background(), expressions.NewGoJQEngine(), map[string]any{
		"loyalty": map[string]any{"tier": "gold"},
	})
	require.NoError(t, err)

	for _, key := range ResultKeys() {
		require.Contains(t, got, key)
		if key == "loyalty" {
			continue
		}
		assert.Equal(t, map[string]any{}, got[key], key)
	}
}

func TestResultKeys(t *testing.T) {
	assert.Equal(t, []string{"recommendations", "pricing", "promotions", "support", "inventory", "trends", "loyalty"}, ResultKeys())
}
