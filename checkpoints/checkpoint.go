package checkpoints

import (
	"time"

	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// Checkpoint is a complete snapshot of a model: its parameter tensors
// plus the training progress that produced them.
type Checkpoint struct {
	Weights       []WeightTensor     `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named parameter with its flattened data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures where in the fit loop the snapshot was taken.
type TrainingState struct {
	Epoch           int     `json:"epoch"`
	Step            int     `json:"step"`
	LearningRate    float64 `json:"learning_rate"`
	WeightDecay     float64 `json:"weight_decay"`
	BestAccuracy    float64 `json:"best_accuracy"`
	ValidationCount int     `json:"validation_count"`
}

// CheckpointMetadata describes the snapshot itself.
type CheckpointMetadata struct {
	ModelName   string    `json:"model_name"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// FromNamedParameters flattens a model's named parameter map into
// checkpoint weight records. Names are the keys of the map, so a
// round trip restores each tensor by name.
func FromNamedParameters(params map[string]*tensor.Tensor) ([]WeightTensor, error) {
	weights := make([]WeightTensor, 0, len(params))
	for name, t := range params {
		if t == nil {
			continue
		}
		data, err := t.GetFloat32Data()
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %q", name)
		}
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: append([]int{}, t.Shape...),
			Data:  append([]float32{}, data...),
		})
	}
	return weights, nil
}

// ApplyToNamedParameters copies checkpoint weights back into a model's
// named parameter map. Every saved weight must have a matching
// parameter of the same shape; extra parameters in the model are left
// untouched.
func ApplyToNamedParameters(weights []WeightTensor, params map[string]*tensor.Tensor) error {
	for _, w := range weights {
		t, ok := params[w.Name]
		if !ok {
			return errors.Errorf("checkpoint weight %q has no matching model parameter", w.Name)
		}
		if t.NumElems != len(w.Data) {
			return errors.Errorf("checkpoint weight %q has %d elements, parameter expects %d",
				w.Name, len(w.Data), t.NumElems)
		}
		if err := t.SetData(append([]float32{}, w.Data...)); err != nil {
			return errors.Wrapf(err, "restoring parameter %q", w.Name)
		}
	}
	return nil
}
