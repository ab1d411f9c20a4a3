// Package upload is a client for the report service that receives photos
// taken by the device.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrUnexpectedStatus is returned when the service answers with a status code
// other than the one expected for the request.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// ImageFilename is the filename sent with every uploaded photo.
const ImageFilename = "Untitled.jpg"

// DefaultHealthTimeout bounds a health check made without a deadline.
const DefaultHealthTimeout = 10 * time.Second

// Location is the optional position attached to a report.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Response is the body returned by the service for a created report.
type Response struct {
	Tweet    string `json:"Tweet"`
	TweetURL string `json:"TweetURL"`
}

// Client talks to the report service.
type Client struct {
	// Endpoint is the base URL of the service.
	Endpoint string
	// AuthToken is sent as the auth query parameter of every upload.
	AuthToken string
	// HTTP is the client used for requests. http.DefaultClient is used if
	// nil.
	HTTP *http.Client
	// HealthTimeout bounds Health when ctx has no earlier deadline.
	HealthTimeout time.Duration

	logger *slog.Logger
}

// New creates a client for the service at endpoint.
func New(endpoint, authToken string, logger *slog.Logger) *Client {
	return &Client{
		Endpoint:      strings.TrimSuffix(endpoint, "/"),
		AuthToken:     authToken,
		HealthTimeout: DefaultHealthTimeout,
		logger:        logger,
	}
}

func (c *Client) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Health checks that the service is up. It gives up after HealthTimeout.
func (c *Client) Health(ctx context.Context) error {
	if c.HealthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.HealthTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.Endpoint+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to create health request")
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to reach service")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrUnexpectedStatus, "health check returned %s", resp.Status)
	}

	return nil
}

// Upload sends a photo with an optional location and returns the URL of the
// created report. The request is bounded by timeout.
func (c *Client) Upload(ctx context.Context, timeout time.Duration, image []byte, loc *Location) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("auth", c.AuthToken)
	if loc != nil {
		q.Set("lat", fmt.Sprintf("%.5f", loc.Latitude))
		q.Set("long", fmt.Sprintf("%.5f", loc.Longitude))
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("image", ImageFilename)
	if err != nil {
		return "", errors.Wrap(err, "failed to create image part")
	}
	if _, err := part.Write(image); err != nil {
		return "", errors.Wrap(err, "failed to write image part")
	}
	if err := form.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finish form")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Endpoint+"/tweet?"+q.Encode(), &body)
	if err != nil {
		return "", errors.Wrap(err, "failed to create upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()

	resp, err := c.client().Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to upload")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn(
			"service rejected upload",
			"status", resp.StatusCode,
			"body", string(msg))
		return "", errors.Wrapf(ErrUnexpectedStatus, "upload returned %s", resp.Status)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "failed to decode upload response")
	}

	c.logger.Debug(
		"uploaded photo",
		"bytes", len(image),
		"url", r.TweetURL,
		"took", time.Since(start))

	return r.TweetURL, nil
}
