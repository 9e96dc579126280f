package testutil

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedSlogHandler(t *testing.T) {
	t.Run("captures log records", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("test message", slog.String("key", "value"))
		logger.Error("error message", slog.Int("code", 500))

		assert.Len(t, handler.GetRecords(), 2)
		assert.True(t, handler.ContainsMessage("test message"))
		assert.True(t, handler.ContainsAttr("key", "value"))
		assert.True(t, handler.ContainsAttr("code", int64(500)))
	})

	t.Run("filters by level", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Debug("debug msg")
		logger.Info("info msg")
		logger.Warn("warn msg")
		logger.Error("error msg")

		assert.Len(t, handler.GetRecordsByLevel(slog.LevelInfo), 1)
		assert.Len(t, handler.GetRecordsByLevel(slog.LevelError), 1)
		assert.Equal(t, 4, handler.Count())
	})

	t.Run("minimum level", func(t *testing.T) {
		handler := NewBufferedSlogHandler(t).WithLevel(slog.LevelWarn)
		logger := slog.New(handler)

		logger.Debug("dropped")
		logger.Info("dropped")
		logger.Warn("kept")

		assert.Equal(t, 1, handler.Count())
		assert.False(t, handler.ContainsMessage("dropped"))
	})

	t.Run("attributes from With and groups", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.With("component", "synth").Info("with attrs")
		logger.WithGroup("fit").Info("grouped", "restart", 2)

		AssertLogAttr(t, handler, "component", "synth")
		AssertLogAttr(t, handler, "fit.restart", int64(2))

		records := handler.FindRecords("grouped")
		require.Len(t, records, 1)
		assert.NotContains(t, records[0].Attrs, "component")
	})

	t.Run("clear functionality", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("message 1")
		logger.With("k", "v").Info("message 2")
		assert.Equal(t, 2, handler.Count())

		handler.Clear()
		assert.Equal(t, 0, handler.Count())
	})

	t.Run("assertion helpers", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("important message", slog.String("component", "test"))
		logger.Warn("warning message", slog.Int("retry", 3))

		AssertLogContains(t, handler, slog.LevelInfo, "important")
		AssertLogAttr(t, handler, "component", "test")
		AssertNoErrors(t, handler)

		logger.Error("something went wrong")
		assert.Len(t, handler.GetRecordsByLevel(slog.LevelError), 1)
	})

	t.Run("thread safety", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				logger.With("worker", n).Info("concurrent log")
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, handler.Count())
	})
}

func TestPanelFixture(t *testing.T) {
	periods := Periods(2000, 3)
	assert.Equal(t, []float64{2000, 2001, 2002}, periods)

	p := NewPanelFixture(periods, "y", "x").
		AddUnit("a", Linear(1, 1, 3), Constant(5, 3)).
		AddUnit("b", Constant(2, 3), Linear(0, 2, 3))

	assert.Equal(t, 6, p.Rows())
	assert.Equal(t, []string{"a", "a", "a", "b", "b", "b"}, p.IDs)
	assert.Equal(t, []float64{2000, 2001, 2002, 2000, 2001, 2002}, p.Times)
	assert.Equal(t, []float64{1, 2, 3, 2, 2, 2}, p.Values["y"])
	assert.Equal(t, []float64{5, 5, 5, 0, 2, 4}, p.Values["x"])

	assert.Panics(t, func() { p.AddUnit("c", Constant(1, 3)) })
	assert.Panics(t, func() { p.AddUnit("c", Constant(1, 2), Constant(1, 3)) })
}

func TestCombine(t *testing.T) {
	got := Combine([]float64{0.7, 0.3}, []float64{10, 20}, []float64{0, 10})
	assert.InDeltaSlice(t, []float64{7, 17}, got, 1e-12)
	assert.Panics(t, func() { Combine([]float64{1}, nil, nil) })
}
