package nn

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"
)

// Package nn defines the structured output of the frame classifiers.
// Inference runs out of process; see server/detect for the HTTP client.

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// Frame is a single captured image, as handed to the detectors and the
// capture sink. The engine never looks inside Jpeg.
type Frame struct {
	Jpeg   []byte    `json:"-"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	PTS    time.Time `json:"pts"`
	ID     int64     `json:"id"` // Monotonic frame counter from the source
}

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Results of an NN object detection run
type DetectionResult struct {
	ImageWidth  int               `json:"imageWidth"`
	ImageHeight int               `json:"imageHeight"`
	Objects     []ObjectDetection `json:"objects"`
	FramePTS    time.Time         `json:"framePTS"`
}

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// ObjectDetector is given a frame, and returns zero or more detected objects.
// Implementations must honor the context deadline; the caller treats an
// overrun as a skipped tick, so a late result is discarded.
type ObjectDetector interface {
	// Close releases the detector and any connections it holds
	Close()

	// DetectObjects returns a list of objects detected in the frame
	DetectObjects(ctx context.Context, frame *Frame, params *DetectionParams) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig describes the model behind a detector, most importantly the
// class list that detection Class indices refer to.
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 320
	Height       int      `json:"height"`       // eg 256
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// ClassName returns the label for a class index, or "" if out of range
func (c *ModelConfig) ClassName(class int) string {
	if class < 0 || class >= len(c.Classes) {
		return ""
	}
	return c.Classes[class]
}

// LookupClass returns the index of the named class, or -1
func (c *ModelConfig) LookupClass(name string) int {
	for i, cls := range c.Classes {
		if cls == name {
			return i
		}
	}
	return -1
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, nil
}
