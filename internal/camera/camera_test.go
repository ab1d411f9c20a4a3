package camera

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCapture(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 24)), nil); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "still.jpg", buf.Bytes())

	c := New([]string{"cat", path}, 0, discardLogger)
	if err := c.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}

	img, err := c.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img, buf.Bytes()) {
		t.Fatalf("captured %d bytes, want %d", len(img), buf.Len())
	}
}

func TestCaptureNotJPEG(t *testing.T) {
	path := writeFile(t, "still.jpg", []byte("definitely not a photo"))

	c := New([]string{"cat", path}, 0, discardLogger)
	_, err := c.Capture(context.Background())
	if !errors.Is(err, ErrNotJPEG) {
		t.Fatalf("got error %v, want %v", err, ErrNotJPEG)
	}
}

func TestSetupMissingCommand(t *testing.T) {
	c := New([]string{"camthing-no-such-capture-command"}, 0, discardLogger)
	if err := c.Setup(context.Background()); err == nil {
		t.Fatal("expected an error for a missing command")
	}
}
