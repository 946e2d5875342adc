package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Credentials supplies the bearer token attached to gateway requests
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token
type StaticToken string

// Token returns the token itself
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// FileToken reads the token from a file on every call so rotated tokens are picked up
type FileToken struct {
	Path string
}

// Token returns the trimmed file contents
func (f FileToken) Token(context.Context) (string, error) {
	buf, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(buf))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}
	return token, nil
}

// CredentialsFunc adapts a function to Credentials
type CredentialsFunc func(ctx context.Context) (string, error)

// Token calls f
func (f CredentialsFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
