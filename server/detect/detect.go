// Package detect is the HTTP client for an out-of-process object detector.
// Inference (and any hardware acceleration) lives in the detector service;
// we POST a JPEG and get structured detections back. Two instances of this
// client serve the engine: one for the person/face model, one for the
// general object model.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/cyclopcam/logs"
)

// RemoteDetector implements nn.ObjectDetector against a detector service:
//
//	GET  {base}/model   -> nn.ModelConfig
//	POST {base}/detect  -> nn.DetectionResult  (body: image/jpeg)
type RemoteDetector struct {
	log     logs.Log
	baseURL string
	client  *http.Client
	config  *nn.ModelConfig
}

// NewRemoteDetector fetches the model config, which doubles as the health
// check. Failure here means the detector is unavailable; the caller runs
// without it rather than aborting startup.
func NewRemoteDetector(log logs.Log, baseURL string, timeout time.Duration) (*RemoteDetector, error) {
	d := &RemoteDetector{
		log:     log,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
	cfg, err := d.fetchModelConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", engine.ErrClassifierUnavailable, baseURL, err)
	}
	d.config = cfg
	log.Infof("Detector at %v ready: %v %vx%v, %v classes", baseURL, cfg.Architecture, cfg.Width, cfg.Height, len(cfg.Classes))
	return d, nil
}

func (d *RemoteDetector) fetchModelConfig() (*nn.ModelConfig, error) {
	resp, err := d.client.Get(d.baseURL + "/model")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %v", resp.StatusCode)
	}
	cfg := &nn.ModelConfig{}
	if err := json.NewDecoder(resp.Body).Decode(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Classes) == 0 {
		return nil, fmt.Errorf("model config has no classes")
	}
	return cfg, nil
}

func (d *RemoteDetector) Config() *nn.ModelConfig {
	return d.config
}

func (d *RemoteDetector) Close() {
	d.client.CloseIdleConnections()
}

// DetectObjects sends the frame's JPEG to the detector service. The context
// deadline is the engine's tick budget; an overrun surfaces as a context
// error, which the engine treats as a skipped tick.
func (d *RemoteDetector) DetectObjects(ctx context.Context, frame *nn.Frame, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	url := d.baseURL + "/detect"
	if params != nil {
		url += "?minConfidence=" + strconv.FormatFloat(float64(params.ProbabilityThreshold), 'f', 3, 32) +
			"&nmsIOU=" + strconv.FormatFloat(float64(params.NmsIouThreshold), 'f', 3, 32)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(frame.Jpeg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %v: %v", resp.StatusCode, string(body))
	}
	result := nn.DetectionResult{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid detector response: %w", err)
	}
	return result.Objects, nil
}
