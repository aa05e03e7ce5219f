// Package inference talks to the external ML service that renders Grad-CAM
// overlays, and fetches source images by URL.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a thin resty wrapper with a fixed timeout.
type Client struct {
	http *resty.Client
}

// New returns a client for the inference service at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "dermascan-backend")
	return &Client{http: r}
}

// Fetch downloads the bytes at an absolute URL, typically a public object
// storage link.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}

// Gradcam posts image as multipart field "file" to /gradcam and returns the
// rendered overlay (JPEG).
func (c *Client) Gradcam(ctx context.Context, filename string, image []byte) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(image)).
		Post("/gradcam")
	if err != nil {
		return nil, fmt.Errorf("gradcam request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gradcam request: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("gradcam request: empty response")
	}
	return resp.Body(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
