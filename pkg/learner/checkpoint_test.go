package learner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ordino/pkg/letor"
	"github.com/soundprediction/ordino/pkg/nn"
	"github.com/soundprediction/ordino/pkg/sampler"
)

func testParams(values ...float64) []*nn.Parameter {
	p := nn.NewParameter("model.weight", len(values), 1)
	copy(p.Data, values)
	return []*nn.Parameter{p}
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	cp, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, cp, "a fresh run has no checkpoint")

	saved := &Checkpoint{
		Epoch:  3,
		Step:   384,
		Cursor: sampler.Cursor{Count: 6144, Position: 144, Loops: 2},
		Listeners: map[string]json.RawMessage{
			"validation": json.RawMessage(`{"mrr@10":{"value":0.42,"epoch":2}}`),
		},
		Params:    SnapshotParams(testParams(0.5, -1.25, 3)),
		Optimizer: json.RawMessage(`{"step":384,"groups":[{}]}`),
	}
	require.NoError(t, mgr.Save(saved))

	for _, name := range []string{"manifest.json", "params.json", "optimizer.json"} {
		_, err := os.Stat(filepath.Join(mgr.Dir(), "checkpoints", "epoch-0003", name))
		assert.NoError(t, err, name)
	}

	loaded, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.Epoch, loaded.Epoch)
	assert.Equal(t, saved.Step, loaded.Step)
	assert.Equal(t, saved.Cursor, loaded.Cursor)
	require.Contains(t, loaded.Listeners, "validation")
	assert.JSONEq(t, string(saved.Listeners["validation"]), string(loaded.Listeners["validation"]))
	assert.Equal(t, saved.Params, loaded.Params)
	assert.JSONEq(t, string(saved.Optimizer), string(loaded.Optimizer))
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestManagerKeepsEveryEpoch(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	for epoch := int64(1); epoch <= 3; epoch++ {
		require.NoError(t, mgr.Save(&Checkpoint{
			Epoch:  epoch,
			Step:   epoch * 10,
			Params: SnapshotParams(testParams(float64(epoch))),
		}))
	}

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Epoch)

	// Earlier epochs stay on disk; retention is the caller's call.
	entries, err := os.ReadDir(filepath.Join(mgr.Dir(), "checkpoints"))
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	assert.ElementsMatch(t, []string{"epoch-0001", "epoch-0002", "epoch-0003"}, dirs)
}

// A crash between writing an epoch directory and flipping the latest
// pointer must leave the previous checkpoint authoritative.
func TestManagerPointerIsCommitPoint(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.Save(&Checkpoint{Epoch: 1, Step: 10, Params: SnapshotParams(testParams(1))}))

	stray := filepath.Join(mgr.Dir(), "checkpoints", "epoch-0002")
	require.NoError(t, os.MkdirAll(stray, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stray, "params.json"), []byte("[]"), 0644))

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Epoch)
}

func TestRestoreParams(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		src := testParams(1.5, -2, 0.25)
		dst := testParams(0, 0, 0)
		dst[0].Grad[1] = 9

		require.NoError(t, RestoreParams(SnapshotParams(src), dst))
		assert.Equal(t, src[0].Data, dst[0].Data)
		assert.Equal(t, 9.0, dst[0].Grad[1], "gradients are not run state")
	})

	t.Run("shape mismatch", func(t *testing.T) {
		err := RestoreParams(SnapshotParams(testParams(1, 2)), testParams(1, 2, 3))
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})

	t.Run("missing parameter", func(t *testing.T) {
		other := nn.NewParameter("model.other", 2, 1)
		err := RestoreParams(SnapshotParams(testParams(1, 2)), []*nn.Parameter{other})
		require.ErrorIs(t, err, letor.ErrConfiguration)
		assert.ErrorContains(t, err, "model.other")
	})

	t.Run("count mismatch", func(t *testing.T) {
		err := RestoreParams(nil, testParams(1))
		require.ErrorIs(t, err, letor.ErrConfiguration)
	})
}

func TestManagerSnapshots(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	params := testParams(0.1, 0.2)
	require.NoError(t, mgr.SaveSnapshot("mrr@10", params))

	// The snapshot is a copy, not a reference.
	params[0].Data[0] = 99
	require.NoError(t, mgr.LoadSnapshot("mrr@10", params))
	assert.Equal(t, []float64{0.1, 0.2}, params[0].Data)

	err = mgr.LoadSnapshot("map", params)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no snapshot retained")

	for _, name := range []string{"", "a/b", `a\b`, "..", "x\x00y"} {
		assert.ErrorIs(t, mgr.SaveSnapshot(name, params), ErrInvalidSnapshotName, "%q", name)
		assert.ErrorIs(t, mgr.LoadSnapshot(name, params), ErrInvalidSnapshotName, "%q", name)
	}
}
