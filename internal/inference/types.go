// Package inference defines the wire shapes exchanged between the Manager
// and a worker's ComputeInference RPC: the task a client submits and the
// result a model produces. Enum tags are numeric so they survive
// cross-language codegen if a non-Go worker is ever substituted.
package inference

import "fmt"

// TaskType identifies which inference a worker should run.
type TaskType int

const (
	// ImageClassification ranks an input image against a fixed label set.
	ImageClassification TaskType = 0
	// ImageToImage transforms an input image and returns another image.
	ImageToImage TaskType = 1
	// TextToText transforms input text and returns text.
	TextToText TaskType = 2
)

func (t TaskType) String() string {
	switch t {
	case ImageClassification:
		return "ImageClassification"
	case ImageToImage:
		return "ImageToImage"
	case TextToText:
		return "TextToText"
	default:
		return fmt.Sprintf("TaskType(%d)", int(t))
	}
}

// TaskSpec carries the inference_type tag plus its only parameter, TopN,
// which applies solely to ImageClassification.
type TaskSpec struct {
	Type TaskType `json:"type"`
	TopN uint32   `json:"top_n,omitempty"`
}

// B64Image is a base64-encoded image with optional declared dimensions.
type B64Image struct {
	Image  string `json:"image"`
	Height uint32 `json:"height,omitempty"`
	Width  uint32 `json:"width,omitempty"`
}

// Task is the body of a ComputeInference call. Exactly one of Text or
// Image is populated, matching InferenceType's expectation.
type Task struct {
	InferenceType TaskSpec  `json:"inference_type"`
	Text          string    `json:"text,omitempty"`
	Image         *B64Image `json:"image,omitempty"`
}

// Validate checks that the task's payload matches what InferenceType
// requires, returning a descriptive error otherwise. Callers should map
// this to dispatch.ErrInvalidInput / HTTP 400.
func (t Task) Validate() error {
	switch t.InferenceType.Type {
	case ImageClassification, ImageToImage:
		if t.Image == nil {
			return fmt.Errorf("%s requires an image payload", t.InferenceType.Type)
		}
	case TextToText:
		if t.Text == "" {
			return fmt.Errorf("%s requires a text payload", t.InferenceType.Type)
		}
	default:
		return fmt.Errorf("unknown inference_type %d", int(t.InferenceType.Type))
	}
	return nil
}

// Class is one ranked label in a Classification result.
type Class struct {
	Probability float64 `json:"probability"`
	Label       string  `json:"label"`
}

// Classification is a ranked, probability-sorted, top_n-bounded list of
// Class entries.
type Classification struct {
	Classes []Class `json:"classes"`
}

// Result is the body of a ComputeInference response. Exactly one of
// Text, Image, or Classification is populated depending on the task's
// InferenceType.
type Result struct {
	Text           string          `json:"text,omitempty"`
	Image          *B64Image       `json:"image,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Duration       float32         `json:"duration"`
}

// Stats is the body of a GetStats response.
type Stats struct {
	ReqsServed uint64 `json:"reqs_served"`
}

// Empty is the (empty) body of a GetStats request.
type Empty struct{}
