package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/bmharper/cimg/v2"
)

// Snapshots are for quick human review alongside the violation log, so we
// shrink anything wider than this.
const maxSnapshotWidth = 640

// WriteSnapshot saves a review JPEG of the frame that opened a violation
// interval. Returns the path of the written file.
func WriteSnapshot(dir string, frame *nn.Frame, kind engine.Condition, intervalID int64) (string, error) {
	img, err := cimg.Decompress(frame.Jpeg)
	if err != nil {
		return "", fmt.Errorf("Failed to decode snapshot frame: %w", err)
	}
	if img.Width > maxSnapshotWidth {
		newHeight := img.Height * maxSnapshotWidth / img.Width
		img = cimg.ResizeNew(img, maxSnapshotWidth, newHeight, nil)
	}
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 85, 0))
	if err != nil {
		return "", fmt.Errorf("Failed to encode snapshot: %w", err)
	}
	filename := fmt.Sprintf("%v_%v_%v.jpg", frame.PTS.Format("2006-01-02_15-04-05"), kind, intervalID)
	fullPath := filepath.Join(dir, filename)
	if err := os.WriteFile(fullPath, jpg, 0660); err != nil {
		return "", err
	}
	return fullPath, nil
}
