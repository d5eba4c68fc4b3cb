package capture

import (
	"os"
	"testing"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/azrihasin/proctoring/server/engine"
	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

func compressTestImage(t *testing.T, width, height int) []byte {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 85, 0))
	require.NoError(t, err)
	return jpg
}

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	frame := &nn.Frame{
		Jpeg:   compressTestImage(t, 1280, 720),
		Width:  1280,
		Height: 720,
		PTS:    time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC),
		ID:     5,
	}

	path, err := WriteSnapshot(dir, frame, engine.CondRestrictedObject, 3)
	require.NoError(t, err)
	require.Contains(t, path, "restricted_object")
	require.Contains(t, path, "2026-03-09_10-30-00")

	jpg, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := cimg.Decompress(jpg)
	require.NoError(t, err)
	// Wide frames are shrunk for review
	require.Equal(t, maxSnapshotWidth, img.Width)
	require.Equal(t, 720*maxSnapshotWidth/1280, img.Height)

	// A corrupt frame is an error, not a crash
	_, err = WriteSnapshot(dir, &nn.Frame{Jpeg: []byte("junk")}, engine.CondSubjectAbsent, 4)
	require.Error(t, err)
}
