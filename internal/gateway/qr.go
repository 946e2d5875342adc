package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// ErrQRUnavailable is returned when no candidate endpoint produced a QR image
var ErrQRUnavailable = errors.New("QR code unavailable")

// QRImage is the raw image served by the gateway
type QRImage struct {
	Data        []byte
	ContentType string
	Source      string // Path of the candidate endpoint that served it
}

// QRCandidates lists the QR image endpoints for a session in the order they are tried
func QRCandidates(name string) []string {
	escaped := url.PathEscape(name)
	return []string{
		"/api/whatsapp/" + escaped + "/auth/qr?format=image",
		"/api/whatsapp/sessions/" + escaped + "/qr",
	}
}

// FetchQR tries each candidate endpoint in order; the first non-empty 2xx body wins
func (c *Client) FetchQR(ctx context.Context, name string) (*QRImage, error) {
	var failures []error

	for _, path := range QRCandidates(name) {
		img, err := c.fetchQRFrom(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.With("session", name).With("endpoint", path).Debugf("QR candidate failed: %v", err)
			failures = append(failures, err)
			continue
		}
		return img, nil
	}

	return nil, fmt.Errorf("%w for session %s: %w", ErrQRUnavailable, name, errors.Join(failures...))
}

func (c *Client) fetchQRFrom(ctx context.Context, path string) (*QRImage, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   path,
		accept: "image/png",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read QR image from %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s returned an empty body", path)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &QRImage{Data: data, ContentType: contentType, Source: path}, nil
}

// FetchQRValue returns the raw QR payload (the string encoded in the image)
func (c *Client) FetchQRValue(ctx context.Context, name string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	path := "/api/whatsapp/" + url.PathEscape(name) + "/auth/qr?format=raw"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	value := strings.TrimSpace(out.Value)
	if value == "" {
		return "", fmt.Errorf("%w: empty raw value for session %s", ErrQRUnavailable, name)
	}
	return value, nil
}

// EncodeQR renders a raw QR value as a PNG image of size pixels
func EncodeQR(value string, size int) (*QRImage, error) {
	data, err := qrcode.Encode(value, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR value: %w", err)
	}
	return &QRImage{Data: data, ContentType: "image/png", Source: "raw"}, nil
}
