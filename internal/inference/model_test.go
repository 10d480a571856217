package inference

import (
	"encoding/base64"
	"testing"
)

func TestReferenceModel_Classify_TopN(t *testing.T) {
	m := NewReferenceModel()
	img := base64.StdEncoding.EncodeToString([]byte("a cat sitting on a car"))

	task := Task{
		InferenceType: TaskSpec{Type: ImageClassification, TopN: 3},
		Image:         &B64Image{Image: img},
	}

	result, err := m.Compute(task)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.Classification == nil {
		t.Fatal("expected a classification result")
	}
	classes := result.Classification.Classes
	if len(classes) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(classes))
	}
	for i, c := range classes {
		if c.Probability < 0 || c.Probability > 1 {
			t.Errorf("class %d probability out of range: %f", i, c.Probability)
		}
		if i > 0 && classes[i-1].Probability < c.Probability {
			t.Errorf("classes not sorted by non-increasing probability at index %d", i)
		}
	}
}

func TestReferenceModel_Classify_Deterministic(t *testing.T) {
	m := NewReferenceModel()
	img := base64.StdEncoding.EncodeToString([]byte("same input"))
	task := Task{
		InferenceType: TaskSpec{Type: ImageClassification, TopN: 5},
		Image:         &B64Image{Image: img},
	}

	r1, err := m.Compute(task)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	r2, err := m.Compute(task)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if len(r1.Classification.Classes) != len(r2.Classification.Classes) {
		t.Fatal("expected identical class counts across calls")
	}
	for i := range r1.Classification.Classes {
		if r1.Classification.Classes[i] != r2.Classification.Classes[i] {
			t.Errorf("class %d differs across calls: %+v vs %+v", i, r1.Classification.Classes[i], r2.Classification.Classes[i])
		}
	}
}

func TestReferenceModel_ImageToImage_Echo(t *testing.T) {
	m := NewReferenceModel()
	img := base64.StdEncoding.EncodeToString([]byte("image bytes"))
	task := Task{
		InferenceType: TaskSpec{Type: ImageToImage},
		Image:         &B64Image{Image: img, Height: 10, Width: 20},
	}

	result, err := m.Compute(task)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.Image == nil || result.Image.Image != img {
		t.Errorf("expected echoed image %q, got %+v", img, result.Image)
	}
}

func TestReferenceModel_TextToText(t *testing.T) {
	m := NewReferenceModel()
	task := Task{
		InferenceType: TaskSpec{Type: TextToText},
		Text:          "hello world",
	}

	result, err := m.Compute(task)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if result.Text != "HELLO WORLD" {
		t.Errorf("got %q, want %q", result.Text, "HELLO WORLD")
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name:    "classification missing image",
			task:    Task{InferenceType: TaskSpec{Type: ImageClassification}},
			wantErr: true,
		},
		{
			name:    "text_to_text missing text",
			task:    Task{InferenceType: TaskSpec{Type: TextToText}},
			wantErr: true,
		},
		{
			name:    "valid classification",
			task:    Task{InferenceType: TaskSpec{Type: ImageClassification}, Image: &B64Image{Image: "x"}},
			wantErr: false,
		},
		{
			name:    "unknown type",
			task:    Task{InferenceType: TaskSpec{Type: TaskType(99)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
