package checkpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvidmar/morphbert/tensor"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		Weights: []WeightTensor{
			{Name: "head.weight", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
			{Name: "head.bias", Shape: []int{3}, Data: []float32{0.1, 0.2, 0.3}},
		},
		TrainingState: TrainingState{
			Epoch:           1,
			LearningRate:    2e-5,
			WeightDecay:     0.01,
			BestAccuracy:    0.875,
			ValidationCount: 4,
		},
		Metadata: CheckpointMetadata{ModelName: "test-model"},
	}
}

func TestDirStoreRoundTrip(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	id, err := store.Save(sampleCheckpoint())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := store.Load(id)
	require.NoError(t, err)

	assert.Equal(t, sampleCheckpoint().Weights, loaded.Weights)
	assert.Equal(t, sampleCheckpoint().TrainingState, loaded.TrainingState)
	assert.Equal(t, "test-model", loaded.Metadata.ModelName)
	assert.False(t, loaded.Metadata.CreatedAt.IsZero())
}

func TestDirStoreDistinctIDs(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	first, err := store.Save(sampleCheckpoint())
	require.NoError(t, err)
	second, err := store.Save(sampleCheckpoint())
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "every save must mint a fresh artifact id")
}

func TestDirStoreUnknownID(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("no-such-artifact")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-artifact")
}

func TestDirStoreNilCheckpoint(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(nil)
	assert.Error(t, err)
}

func TestNamedParameterRoundTrip(t *testing.T) {
	w, err := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	params := map[string]*tensor.Tensor{"w": w}

	weights, err := FromNamedParameters(params)
	require.NoError(t, err)
	require.Len(t, weights, 1)
	assert.Equal(t, "w", weights[0].Name)

	// Mutate the live parameter, then restore from the snapshot.
	require.NoError(t, w.SetData([]float32{9, 9, 9, 9}))
	require.NoError(t, ApplyToNamedParameters(weights, params))
	assert.Equal(t, []float32{1, 2, 3, 4}, w.Data.([]float32))
}

func TestApplyRejectsUnknownWeight(t *testing.T) {
	w, err := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})
	require.NoError(t, err)

	err = ApplyToNamedParameters(
		[]WeightTensor{{Name: "missing", Shape: []int{1}, Data: []float32{1}}},
		map[string]*tensor.Tensor{"w": w},
	)
	assert.Error(t, err)
}

func TestApplyRejectsShapeMismatch(t *testing.T) {
	w, err := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, 2})
	require.NoError(t, err)

	err = ApplyToNamedParameters(
		[]WeightTensor{{Name: "w", Shape: []int{3}, Data: []float32{1, 2, 3}}},
		map[string]*tensor.Tensor{"w": w},
	)
	assert.Error(t, err)
}
