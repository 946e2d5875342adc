package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Media is a downloaded attachment
type Media struct {
	Data        []byte
	ContentType string
}

// ErrMediaHostNotAllowed is returned for media URLs outside the gateway and the
// configured media hosts
var ErrMediaHostNotAllowed = errors.New("media host not allowed")

// DownloadMedia fetches a media URL. Relative URLs are resolved against the gateway and
// credentials are only attached to gateway-hosted media. Foreign media must be https
// on a host listed with WithMediaHosts.
func (c *Client) DownloadMedia(ctx context.Context, rawURL string) (*Media, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("media URL is empty")
	}
	if strings.HasPrefix(rawURL, "//") {
		return nil, fmt.Errorf("invalid media URL %q", rawURL)
	}

	auth := true
	if !strings.HasPrefix(rawURL, "/") {
		u, err := url.Parse(rawURL)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("invalid media URL %q", rawURL)
		}
		auth = c.sameOrigin(u)
		if !auth && !c.mediaHostAllowed(u) {
			return nil, fmt.Errorf("%w: %s", ErrMediaHostNotAllowed, u.Host)
		}
	}

	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   rawURL,
		auth:   auth,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > c.maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", c.maxMediaBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("media at %s is empty", rawURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Media{Data: data, ContentType: contentType}, nil
}

func (c *Client) mediaHostAllowed(u *url.URL) bool {
	if !strings.EqualFold(u.Scheme, "https") {
		return false
	}
	return c.mediaHosts[strings.ToLower(u.Host)] || c.mediaHosts[strings.ToLower(u.Hostname())]
}

// TranscriptionResponse is the body returned by the transcription endpoint
type TranscriptionResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrTranscriptionRejected is returned when the endpoint answers success=false
var ErrTranscriptionRejected = errors.New("transcription rejected")

// Transcribe posts audio as multipart form field "audio" and returns the text
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio is empty")
	}
	if filename == "" {
		filename = "audio.ogg"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        c.transcribeURL,
		body:        body,
		contentType: writer.FormDataContentType(),
		accept:      "application/json",
		auth:        true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out TranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = out.Message
		}
		if reason == "" {
			reason = "no reason given"
		}
		return "", fmt.Errorf("%w: %s", ErrTranscriptionRejected, reason)
	}

	return out.Text, nil
}
