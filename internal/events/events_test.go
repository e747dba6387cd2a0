package events

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_Rank(t *testing.T) {
	order := []Stage{StageIdle, StageCompiling, StageDeploying, StageVerifying, StageCompleted}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), "%s should rank above %s", order[i], order[i-1])
	}
	for _, s := range order {
		assert.Greater(t, StageError.Rank(), s.Rank())
	}
	assert.Equal(t, -1, Stage("bogus").Rank())
	assert.True(t, StageCompleted.Terminal())
	assert.True(t, StageError.Terminal())
	assert.False(t, StageVerifying.Terminal())
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	em := For(rec, StageCompiling)

	em.Info("📝", "Writing contract files...")
	em.Warn("⚠", "Could not load artifact for %s", "Token")
	For(rec, StageDeploying).Error("", "boom")

	evts := rec.Events()
	assert.Len(t, evts, 3)
	assert.Equal(t, 1, evts[0].Seq)
	assert.Equal(t, 3, evts[2].Seq)
	assert.Equal(t, StageCompiling, evts[1].Stage)
	assert.Equal(t, Warn, evts[1].Kind)
	assert.Equal(t, StageDeploying, evts[2].Stage)
	assert.False(t, evts[0].Time.IsZero())

	assert.Equal(t, []string{
		"📝 Writing contract files...",
		"⚠ Could not load artifact for Token",
		"boom",
	}, rec.Lines())
}

func TestEmitter_PercentInArgs(t *testing.T) {
	rec := NewRecorder()
	em := For(rec, StageIdle)
	em.Info("", "%s", "100% done")
	em.Info("", "plain message")
	assert.Equal(t, []string{"100% done", "plain message"}, rec.Lines())
}

func TestFor_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		For(nil, StageIdle).Info("", "dropped")
	})
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	For(Multi(a, nil, b), StageIdle).Info("", "hello")
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	For(SlogSink(logger), StageVerifying).Warn("⚠", "still pending")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "stage=verifying")
	assert.Contains(t, out, "still pending")
}
