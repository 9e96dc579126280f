package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "synthcontrol/internal/errors"
)

func TestNewFrame(t *testing.T) {
	tests := []struct {
		name    string
		cols    []Column
		wantErr string
	}{
		{
			name: "valid",
			cols: []Column{TextColumn("id", "a", "b"), NumericColumn("y", 1, 2)},
		},
		{
			name:    "no columns",
			wantErr: "frame has no columns",
		},
		{
			name:    "empty name",
			cols:    []Column{NumericColumn("", 1)},
			wantErr: "empty name",
		},
		{
			name:    "duplicate column",
			cols:    []Column{NumericColumn("y", 1), NumericColumn("y", 2)},
			wantErr: "duplicate column",
		},
		{
			name:    "ragged columns",
			cols:    []Column{NumericColumn("y", 1, 2), NumericColumn("x", 1)},
			wantErr: "has 1 rows, expected 2",
		},
		{
			name:    "both text and numbers",
			cols:    []Column{{Name: "y", Text: []string{"a"}, Num: []float64{1}}},
			wantErr: "either text or numeric",
		},
		{
			name:    "neither text nor numbers",
			cols:    []Column{{Name: "y"}},
			wantErr: "either text or numeric",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFrame(tt.cols...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, f.Len())
		})
	}
}

func TestFrameAccessors(t *testing.T) {
	f, err := NewFrame(
		TextColumn("id", "a", "a", "b"),
		NumericColumn("time", 1990, 1991.5, 2e6),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "time"}, f.Names())
	assert.True(t, f.Has("id"))
	assert.False(t, f.Has("gdp"))
	assert.True(t, f.IsNumeric("time"))
	assert.False(t, f.IsNumeric("id"))
	assert.False(t, f.IsNumeric("gdp"))

	_, ok := f.Numeric("id")
	assert.False(t, ok)

	labels, ok := f.Labels("time")
	require.True(t, ok)
	assert.Equal(t, []string{"1990", "1991.5", "2e+06"}, labels)

	_, ok = f.Labels("missing")
	assert.False(t, ok)
}

func TestFrameIsolation(t *testing.T) {
	values := []float64{1, 2, 3}
	f, err := NewFrame(NumericColumn("y", values...))
	require.NoError(t, err)

	values[0] = 100
	got, ok := f.Numeric("y")
	require.True(t, ok)
	assert.Equal(t, 1.0, got[0], "caller slice leaked into the frame")

	got[1] = 200
	again, _ := f.Numeric("y")
	assert.Equal(t, 2.0, again[1], "accessor returned a shared slice")

	clone := f.Clone()
	assert.Equal(t, f.Names(), clone.Names())
	cloned, _ := clone.Numeric("y")
	assert.Equal(t, []float64{1, 2, 3}, cloned)
}
