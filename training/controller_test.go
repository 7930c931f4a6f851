package training

import (
	"testing"

	"github.com/mvidmar/morphbert/checkpoints"
	"github.com/mvidmar/morphbert/tensor"
)

// linearModel is a minimal trainable model: logits = x * w. It keeps
// controller tests independent of the full classifier stack.
type linearModel struct {
	w        *tensor.Tensor
	training bool
}

func newLinearModel(t *testing.T, features, classes int) *linearModel {
	t.Helper()
	data := make([]float32, features*classes)
	for i := range data {
		data[i] = 0.01 * float32(i%7)
	}
	w, err := tensor.NewTensor([]int{features, classes}, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	w.SetRequiresGrad(true)
	return &linearModel{w: w, training: true}
}

func (m *linearModel) Forward(batch Batch) (*tensor.Tensor, error) {
	return tensor.MatMulAutograd(batch["x"], m.w), nil
}

func (m *linearModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.w} }

func (m *linearModel) NamedParameters() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"w": m.w}
}

func (m *linearModel) Train()           { m.training = true }
func (m *linearModel) Eval()            { m.training = false }
func (m *linearModel) IsTraining() bool { return m.training }

// separableDataset yields n examples whose label is trivially readable
// from the input: class c has a one-hot x at position c.
func separableDataset(t *testing.T, n, classes int) Dataset {
	t.Helper()
	examples := make([]Example, 0, n)
	for i := 0; i < n; i++ {
		label := int32(i % classes)
		x := make([]float32, classes)
		x[label] = 1
		examples = append(examples, exampleWith(t, x, label))
	}
	return NewSliceDataset(examples)
}

func testConfig() ControllerConfig {
	return ControllerConfig{
		ModelName:           "test",
		BatchSize:           4,
		LearningRate:        0.1,
		EarlyStoppingRounds: 5,
		ValidateEveryN:      8,
		Seed:                1,
	}
}

func TestControllerConfigValidation(t *testing.T) {
	model := newLinearModel(t, 2, 2)

	cases := []struct {
		name   string
		mutate func(*ControllerConfig)
	}{
		{"ZeroBatchSize", func(c *ControllerConfig) { c.BatchSize = 0 }},
		{"ZeroValidateEveryN", func(c *ControllerConfig) { c.ValidateEveryN = 0 }},
		{"ZeroEarlyStoppingRounds", func(c *ControllerConfig) { c.EarlyStoppingRounds = 0 }},
		{"ZeroLearningRate", func(c *ControllerConfig) { c.LearningRate = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig()
			tc.mutate(&config)
			if _, err := NewController(model, nil, nil, config); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestControllerTrainReducesLoss(t *testing.T) {
	model := newLinearModel(t, 2, 2)
	controller, err := NewController(model, nil, nil, testConfig())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	dataset := separableDataset(t, 16, 2)
	first, err := controller.Train(dataset)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	var last float64
	for i := 0; i < 5; i++ {
		last, err = controller.Train(dataset)
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
	}
	if last >= first {
		t.Errorf("loss should fall on separable data: first %v, last %v", first, last)
	}
	if !model.IsTraining() {
		t.Error("Train should leave the model in training mode")
	}
}

func TestControllerValidate(t *testing.T) {
	model := newLinearModel(t, 2, 2)
	controller, err := NewController(model, nil, nil, testConfig())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	dataset := separableDataset(t, 10, 2)

	first, err := controller.Validate(dataset)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if first.Examples != 10 {
		t.Errorf("expected 10 validation examples, got %d", first.Examples)
	}
	if model.IsTraining() {
		t.Error("Validate should leave the model in evaluation mode")
	}

	// No parameters move during validation, so a second run is
	// bit-identical.
	second, err := controller.Validate(dataset)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if first.Loss != second.Loss || first.Accuracy != second.Accuracy {
		t.Errorf("validation must be repeatable: %+v vs %+v", first, second)
	}
}

func TestSplitMinisets(t *testing.T) {
	perm := make([]int, 10000)
	for i := range perm {
		perm[i] = i
	}
	minisets := splitMinisets(perm, 3000)
	wantSizes := []int{3000, 3000, 3000, 1000}
	if len(minisets) != len(wantSizes) {
		t.Fatalf("expected %d minisets, got %d", len(wantSizes), len(minisets))
	}
	for i, want := range wantSizes {
		if len(minisets[i]) != want {
			t.Errorf("miniset %d: expected %d examples, got %d", i, want, len(minisets[i]))
		}
	}
}

func TestFitEarlyStopping(t *testing.T) {
	// The model starts near-uniform and the dev set is a single class,
	// so the first validation improves on zero accuracy and every later
	// one ties. With one stopping round the run ends after the second
	// validation.
	model := newLinearModel(t, 2, 2)
	config := testConfig()
	config.EarlyStoppingRounds = 1
	config.ValidateEveryN = 8

	controller, err := NewController(model, nil, nil, config)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	train := separableDataset(t, 32, 2)
	devExamples := make([]Example, 4)
	for i := range devExamples {
		devExamples[i] = exampleWith(t, []float32{1, 0}, 0)
	}
	dev := NewSliceDataset(devExamples)

	result, err := controller.Fit(train, dev, 10)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.State != FitEarlyStopped {
		t.Errorf("expected early stop, got %s", result.State)
	}
	if result.Validations != 2 {
		t.Errorf("expected exactly 2 validations, got %d", result.Validations)
	}
	if result.BestAccuracy <= 0 {
		t.Errorf("expected positive best accuracy, got %v", result.BestAccuracy)
	}
}

func TestFitWithoutDevNeverStopsEarly(t *testing.T) {
	model := newLinearModel(t, 2, 2)
	config := testConfig()
	config.EarlyStoppingRounds = 1

	controller, err := NewController(model, nil, nil, config)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	result, err := controller.Fit(separableDataset(t, 16, 2), nil, 3)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.State != FitCompleted {
		t.Errorf("expected completed state, got %s", result.State)
	}
	if result.Validations != 0 {
		t.Errorf("expected no validations without a dev set, got %d", result.Validations)
	}
	if result.Epochs != 3 {
		t.Errorf("expected 3 epochs, got %d", result.Epochs)
	}
}

func TestFitSkipsValidationOnShortMiniset(t *testing.T) {
	// 10 training examples with an interval of 8 yield minisets of 8
	// and 2; the 2-example miniset is under half the interval and must
	// not trigger validation.
	model := newLinearModel(t, 2, 2)
	config := testConfig()
	config.ValidateEveryN = 8
	config.EarlyStoppingRounds = 100

	controller, err := NewController(model, nil, nil, config)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	result, err := controller.Fit(separableDataset(t, 10, 2), separableDataset(t, 4, 2), 1)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.Validations != 1 {
		t.Errorf("expected 1 validation, got %d", result.Validations)
	}
}

func TestFitCheckpointsImprovements(t *testing.T) {
	store, err := checkpoints.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}

	model := newLinearModel(t, 2, 2)
	config := testConfig()
	config.EarlyStoppingRounds = 2

	controller, err := NewController(model, store, nil, config)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	devExamples := make([]Example, 4)
	for i := range devExamples {
		devExamples[i] = exampleWith(t, []float32{1, 0}, 0)
	}
	result, err := controller.Fit(separableDataset(t, 16, 2), NewSliceDataset(devExamples), 2)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.BestArtifactID == "" {
		t.Fatal("expected an artifact id after an improving validation")
	}

	saved, err := store.Load(result.BestArtifactID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if saved.TrainingState.BestAccuracy != result.BestAccuracy {
		t.Errorf("checkpoint accuracy %v does not match result %v",
			saved.TrainingState.BestAccuracy, result.BestAccuracy)
	}
	if len(saved.Weights) != 1 || saved.Weights[0].Name != "w" {
		t.Errorf("expected one weight named w, got %+v", saved.Weights)
	}

	// Restoring must write the saved values back into the live model.
	if err := controller.RestoreCheckpoint(result.BestArtifactID); err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	restored := model.w.Data.([]float32)
	for i, v := range saved.Weights[0].Data {
		if restored[i] != v {
			t.Errorf("weight %d: restored %v, checkpoint %v", i, restored[i], v)
		}
	}
}
