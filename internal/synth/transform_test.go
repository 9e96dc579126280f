package synth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemean(t *testing.T) {
	frame, err := NewFrame(
		TextColumn("id", "a", "a", "a", "b", "b", "b"),
		NumericColumn("time", 1, 2, 3, 1, 2, 3),
		NumericColumn("y", 1, 2, 6, 10, 20, 30),
		NumericColumn("x", 4, 4, 4, -1, 0, 1),
	)
	require.NoError(t, err)

	out, err := Demean(frame, "id", "time")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "time", "y", "x"}, out.Names())

	ids, ok := out.Labels("id")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "a", "a", "b", "b", "b"}, ids)

	times, ok := out.Numeric("time")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, times)

	y, ok := out.Numeric("y")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{-2, -1, 3, -10, 0, 10}, y, 1e-12)

	x, ok := out.Numeric("x")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0, 0, 0, -1, 0, 1}, x, 1e-12)

	// the input is untouched
	orig, _ := frame.Numeric("y")
	assert.Equal(t, []float64{1, 2, 6, 10, 20, 30}, orig)
}

func TestDemean_FeedsIngest(t *testing.T) {
	demeaned, err := Demean(refFrame(t), "id", "time")
	require.NoError(t, err)

	store, err := Ingest(demeaned, refSpec())
	require.NoError(t, err)
	assert.Equal(t, refStore(t).Dimensions(), store.Dimensions())

	// covariates are constant per unit, so nothing is left after centering
	assert.InDeltaSlice(t, []float64{0, 0}, store.X1().RawVector().Data, 1e-12)
}

func TestDemean_Errors(t *testing.T) {
	valid := func(extra ...Column) *Frame {
		cols := append([]Column{
			TextColumn("id", "a", "a", "b", "b"),
			NumericColumn("time", 1, 2, 1, 2),
		}, extra...)
		f, err := NewFrame(cols...)
		require.NoError(t, err)
		return f
	}

	tests := []struct {
		name  string
		frame *Frame
		id    string
		field string
	}{
		{"nil frame", nil, "id", "frame"},
		{"missing id column", valid(), "unit", "unit"},
		{"text value column", valid(TextColumn("label", "p", "q", "r", "s")), "id", "label"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Demean(tt.frame, tt.id, "time")
			require.Error(t, err)

			var mpe *MalformedPanelError
			require.True(t, errors.As(err, &mpe))
			assert.Equal(t, tt.field, mpe.Field)
		})
	}

	rectangular := []struct {
		name string
		ids  []string
		time []float64
		unit string
		msg  string
	}{
		{"unit missing a period", []string{"a", "a", "a", "b", "b"}, []float64{1, 2, 3, 1, 2}, "b", "unit has 2 observations, expected 3"},
		{"unit on other periods", []string{"a", "a", "b", "b"}, []float64{1, 2, 1, 3}, "a", "unit has 2 observations, expected 3"},
		{"same count different periods", []string{"a", "a", "b", "b", "c", "c"}, []float64{1, 2, 1, 2, 1, 3}, "a", "unit has 2 observations, expected 3"},
		{"one unit observed late", []string{"a", "a", "a", "b", "b", "b"}, []float64{1, 2, 3, 2, 3, 4}, "a", "unit has 3 observations, expected 4"},
	}
	for _, tt := range rectangular {
		t.Run(tt.name, func(t *testing.T) {
			y := make([]float64, len(tt.ids))
			f, err := NewFrame(TextColumn("id", tt.ids...), NumericColumn("time", tt.time...), NumericColumn("y", y...))
			require.NoError(t, err)

			out, err := Demean(f, "id", "time")
			require.Error(t, err)
			assert.Nil(t, out)

			var mpe *MalformedPanelError
			require.True(t, errors.As(err, &mpe))
			assert.Equal(t, "unit", mpe.Field)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, len(distinctPeriods(tt.time)), mpe.Dims.PeriodsAll)
			assert.Equal(t, tt.unit, mpe.Value)
		})
	}

	t.Run("non-contiguous unit", func(t *testing.T) {
		f, err := NewFrame(
			TextColumn("id", "a", "b", "a"),
			NumericColumn("time", 1, 1, 2),
			NumericColumn("y", 1, 2, 3),
		)
		require.NoError(t, err)

		_, err = Demean(f, "id", "time")
		var mpe *MalformedPanelError
		require.True(t, errors.As(err, &mpe))
		assert.Contains(t, mpe.Error(), "not contiguous")
	})
}
