// Package camera captures photos by running an external capture command that
// writes a JPEG to its standard output.
package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// ErrNotJPEG is returned when the capture command does not produce a JPEG.
var ErrNotJPEG = errors.New("capture is not a JPEG")

// DefaultCommand captures a single still with libcamera and writes it to
// standard output.
var DefaultCommand = []string{
	"libcamera-still", "--nopreview", "--immediate", "--encoding", "jpg", "--output", "-",
}

// Camera runs a capture command for every photo.
type Camera struct {
	// Command is the capture command and its arguments.
	Command []string
	// Timeout bounds a single capture. Zero means no timeout.
	Timeout time.Duration

	logger *slog.Logger
}

// New creates a camera running the given command. An empty command uses
// DefaultCommand.
func New(command []string, timeout time.Duration, logger *slog.Logger) *Camera {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &Camera{
		Command: command,
		Timeout: timeout,
		logger:  logger,
	}
}

// Setup checks that the capture command exists.
func (c *Camera) Setup(ctx context.Context) error {
	path, err := exec.LookPath(c.Command[0])
	if err != nil {
		return errors.Wrap(err, "capture command not found")
	}
	c.logger.Debug("found capture command", "path", path)
	return nil
}

// Capture takes a photo and returns it as JPEG data.
func (c *Camera) Capture(ctx context.Context) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		c.logger.Warn(
			"capture command failed",
			"stderr", stderr.String(),
			"error", err)
		return nil, errors.Wrap(err, "failed to run capture command")
	}

	img := stdout.Bytes()

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, errors.Wrapf(ErrNotJPEG, "%d bytes: %v", len(img), err)
	}

	c.logger.Debug(
		"captured photo",
		"bytes", len(img),
		"width", cfg.Width,
		"height", cfg.Height,
		"took", time.Since(start))

	return img, nil
}
