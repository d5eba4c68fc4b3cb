package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func detectorService(t *testing.T, detections []nn.ObjectDetection) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&nn.ModelConfig{
			Architecture: "yolov8m",
			Width:        640,
			Height:       480,
			Classes:      nn.COCOClasses,
		})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.URL.Query().Get("minConfidence"))
		json.NewEncoder(w).Encode(&nn.DetectionResult{
			ImageWidth:  640,
			ImageHeight: 480,
			Objects:     detections,
		})
	})
	return httptest.NewServer(mux)
}

func TestRemoteDetector(t *testing.T) {
	expected := []nn.ObjectDetection{
		{Class: nn.COCOCellPhone, Confidence: 0.83, Box: nn.Rect{X: 100, Y: 200, Width: 50, Height: 90}},
	}
	ts := detectorService(t, expected)
	defer ts.Close()

	d, err := NewRemoteDetector(logs.NewTestingLog(t), ts.URL, 2*time.Second)
	require.NoError(t, err)
	defer d.Close()

	cfg := d.Config()
	require.Equal(t, "yolov8m", cfg.Architecture)
	require.Equal(t, "cell phone", cfg.ClassName(nn.COCOCellPhone))

	frame := &nn.Frame{Jpeg: []byte{0xff, 0xd8, 0xff}, Width: 640, Height: 480}
	dets, err := d.DetectObjects(context.Background(), frame, nn.NewDetectionParams())
	require.NoError(t, err)
	require.Equal(t, expected, dets)
}

func TestRemoteDetectorUnavailable(t *testing.T) {
	// Nothing is listening here
	_, err := NewRemoteDetector(logs.NewTestingLog(t), "http://127.0.0.1:1", time.Second)
	require.True(t, errors.Is(err, engine.ErrClassifierUnavailable))
}

func TestRemoteDetectorRejectsEmptyModel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&nn.ModelConfig{})
	}))
	defer ts.Close()
	_, err := NewRemoteDetector(logs.NewTestingLog(t), ts.URL, time.Second)
	require.True(t, errors.Is(err, engine.ErrClassifierUnavailable))
}

func TestRemoteDetectorHonorsDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&nn.ModelConfig{Classes: nn.COCOClasses})
	})
	release := make(chan bool)
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	defer close(release)

	d, err := NewRemoteDetector(logs.NewTestingLog(t), ts.URL, 10*time.Second)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.DetectObjects(ctx, &nn.Frame{Jpeg: []byte{1}}, nn.NewDetectionParams())
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRemoteDetectorServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&nn.ModelConfig{Classes: nn.COCOClasses})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	d, err := NewRemoteDetector(logs.NewTestingLog(t), ts.URL, time.Second)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.DetectObjects(context.Background(), &nn.Frame{Jpeg: []byte{1}}, nn.NewDetectionParams())
	require.Error(t, err)
	require.Contains(t, err.Error(), "model crashed")
}
