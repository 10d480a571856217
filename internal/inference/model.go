package inference

import (
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Model is the contract a worker calls into to execute a Task. The real
// tensor computation behind it is an opaque collaborator (model loading,
// GPU/CPU placement, label tables); this package only defines the shape
// that contract must honor.
type Model interface {
	// Compute runs task and returns its Result. The model fills in
	// Result.Duration with its own elapsed compute time; the worker server
	// passes it through unchanged.
	Compute(task Task) (Result, error)
}

// ReferenceModel is a deterministic, non-ML stand-in for a loaded model.
// It never touches a GPU or a tensor library; it exists so the dispatcher
// can be exercised end to end without a real model file. Classification
// ranks a fixed label table by a hash of the decoded image bytes so that
// the same input always produces the same ranking, and ImageToImage /
// TextToText simply echo their input back through a trivial transform.
type ReferenceModel struct {
	Labels []string
}

// NewReferenceModel builds a ReferenceModel with a small built-in label
// table, enough to exercise top_n truncation and probability ordering.
func NewReferenceModel() *ReferenceModel {
	return &ReferenceModel{
		Labels: []string{
			"cat", "dog", "bird", "car", "tree",
			"person", "bicycle", "boat", "flower", "mountain",
		},
	}
}

// Compute implements Model.
func (m *ReferenceModel) Compute(task Task) (Result, error) {
	if err := task.Validate(); err != nil {
		return Result{}, err
	}

	start := time.Now()

	var result Result
	var err error
	switch task.InferenceType.Type {
	case ImageClassification:
		result, err = m.classify(task)
	case ImageToImage:
		result, err = m.imageToImage(task)
	case TextToText:
		result, err = m.textToText(task)
	default:
		return Result{}, fmt.Errorf("unsupported inference_type %d", int(task.InferenceType.Type))
	}
	if err != nil {
		return Result{}, err
	}

	result.Duration = float32(time.Since(start).Seconds())
	return result, nil
}

func (m *ReferenceModel) classify(task Task) (Result, error) {
	raw, err := base64.StdEncoding.DecodeString(task.Image.Image)
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}

	topN := task.InferenceType.TopN
	if topN == 0 || int(topN) > len(m.Labels) {
		topN = uint32(len(m.Labels))
	}

	classes := make([]Class, len(m.Labels))
	for i, label := range m.Labels {
		h := fnv.New32a()
		_, _ = h.Write(raw)
		_, _ = h.Write([]byte(label))
		// Spread scores deterministically across [0,1).
		classes[i] = Class{
			Probability: float64(h.Sum32()%10000) / 10000.0,
			Label:       label,
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Probability != classes[j].Probability {
			return classes[i].Probability > classes[j].Probability
		}
		return classes[i].Label < classes[j].Label
	})
	classes = normalize(classes[:topN])

	return Result{Classification: &Classification{Classes: classes}}, nil
}

// normalize rescales a truncated, already-sorted class list so
// probabilities stay within [0,1] and the top entry is the maximum.
func normalize(classes []Class) []Class {
	if len(classes) == 0 {
		return classes
	}
	max := classes[0].Probability
	if max == 0 {
		return classes
	}
	out := make([]Class, len(classes))
	for i, c := range classes {
		out[i] = Class{Probability: c.Probability / max, Label: c.Label}
	}
	return out
}

func (m *ReferenceModel) imageToImage(task Task) (Result, error) {
	if _, err := base64.StdEncoding.DecodeString(task.Image.Image); err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	// The reference model performs no real transform; it passes the
	// image through unchanged so callers can exercise the wire shape.
	return Result{Image: &B64Image{
		Image:  task.Image.Image,
		Height: task.Image.Height,
		Width:  task.Image.Width,
	}}, nil
}

func (m *ReferenceModel) textToText(task Task) (Result, error) {
	return Result{Text: strings.ToUpper(task.Text)}, nil
}
