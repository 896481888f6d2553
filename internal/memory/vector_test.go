// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorConversion(t *testing.T) {
	original := []float32{0.1, -0.2, 0.3, 1e-7, 42}
	blob := EncodeVector(original)
	assert.Len(t, blob, len(original)*4)
	assert.Equal(t, original, DecodeVector(blob))

	assert.Nil(t, EncodeVector(nil))
	assert.Nil(t, DecodeVector([]byte{1, 2, 3}))
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, expected: 1},
		{name: "orthogonal", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, expected: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, expected: -1},
		{name: "scaled", a: []float32{1, 2, 3}, b: []float32{2, 4, 6}, expected: 1},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, expected: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Cosine(tt.a, tt.b), 1e-6)
		})
	}
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 1.0, NormalizeScore(1))
	assert.Equal(t, 0.5, NormalizeScore(0))
	assert.Equal(t, 0.0, NormalizeScore(-1))
	assert.Equal(t, 1.0, NormalizeScore(1.0000001))
}

func TestUnit(t *testing.T) {
	u := Unit([]float32{3, 4})
	assert.InDelta(t, 0.6, u[0], 1e-6)
	assert.InDelta(t, 0.8, u[1], 1e-6)
	assert.Nil(t, Unit([]float32{0, 0}))
}

func TestOpError(t *testing.T) {
	err := Wrap("forget", "default", "abc", ErrNotFound)
	assert.EqualError(t, err, "forget scope=default id=abc: memory not found")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Nil(t, Wrap("forget", "", "", nil))

	wrapped := fmt.Errorf("put: %w", Wrap("put", "", "x", ErrStoreUnavailable))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(ErrEmbeddingUnavailable))
}
