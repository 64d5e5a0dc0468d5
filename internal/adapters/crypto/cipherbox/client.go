package cipherbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"patient-health-history/internal/platform/httpclient"
)

var (
	ErrNotConfigured = errors.New("cipherbox client not configured")
	ErrUpstream      = errors.New("cipherbox upstream error")
)

// Client habla con el servicio externo de cifrado simétrico.
// Implementa crypto.Cipher; el core no conoce claves ni algoritmo.
type Client struct {
	http   *httpclient.Client
	apiKey string
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc, err := httpclient.NewWithBaseURL(strings.TrimSpace(cfg.BaseURL), timeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		http:   hc,
		apiKey: strings.TrimSpace(cfg.APIKey),
	}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.http != nil && c.http.BaseURL != "" && c.apiKey != ""
}

func (c *Client) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return c.call(ctx, "/v1/encrypt", plaintext)
}

func (c *Client) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return c.call(ctx, "/v1/decrypt", ciphertext)
}

func (c *Client) call(ctx context.Context, path, payload string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	var out struct {
		Data string `json:"data"`
	}

	err := c.http.DoJSON(ctx, http.MethodPost, path,
		map[string]string{"X-Api-Key": c.apiKey},
		map[string]string{"data": payload},
		&out,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return out.Data, nil
}
