package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePayloadReplacesScalars(t *testing.T) {
	base := map[string]any{"a": 1, "b": "x"}
	patch := map[string]any{"b": "y", "c": true}

	merged := MergePayload(base, patch)

	assert.Equal(t, map[string]any{"a": 1, "b": "y", "c": true}, merged)
}

func TestMergePayloadNullDeletesKey(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	patch := map[string]any{"b": nil}

	merged := MergePayload(base, patch)

	assert.Equal(t, map[string]any{"a": 1}, merged)
}

func TestMergePayloadNestedObjects(t *testing.T) {
	base := map[string]any{
		"meta": map[string]any{"x": 1, "y": 2},
		"keep": "v",
	}
	patch := map[string]any{
		"meta": map[string]any{"y": 3, "z": nil, "w": 4},
	}

	merged := MergePayload(base, patch)

	assert.Equal(t, map[string]any{
		"meta": map[string]any{"x": 1, "y": 3, "w": 4},
		"keep": "v",
	}, merged)
}

func TestMergePayloadObjectReplacesScalar(t *testing.T) {
	base := map[string]any{"a": "scalar"}
	patch := map[string]any{"a": map[string]any{"inner": 1}}

	merged := MergePayload(base, patch)

	assert.Equal(t, map[string]any{"a": map[string]any{"inner": 1}}, merged)
}

func TestMergePayloadDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"a": 1}
	MergePayload(base, map[string]any{"a": nil, "b": 2})

	assert.Equal(t, map[string]any{"a": 1}, base)
}
