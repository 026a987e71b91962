// Package audit handles forwarding of persisted audit entries to external
// destinations. The database audit_logs table is the system of record; this
// package exists because audit records have different consumers and retention
// requirements than application logs; compliance teams want them in a SIEM
// or long-retention file, independent of the application's own logging
// pipeline. Shipping is always best-effort and asynchronous: a destination
// being down never blocks or fails an operation whose entry already
// persisted.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// Entry is the external wire shape of one audit record.
type Entry struct {
	Timestamp    time.Time      `json:"timestamp"`
	ActionType   string         `json:"action_type"`
	SubjectEmail string         `json:"subject_email"`
	Description  string         `json:"description"`
	PerformedBy  string         `json:"performed_by"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Shipper sends audit entries to one destination.
type Shipper interface {
	// Ship sends an audit entry to the destination.
	Ship(ctx context.Context, entry *Entry) error
	// Close flushes buffers and releases resources.
	Close() error
}

// ShipperConfig selects and configures one shipper.
type ShipperConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Type    string         `mapstructure:"type"` // "file" or "webhook"
	File    *FileConfig    `mapstructure:"file"`
	Webhook *WebhookConfig `mapstructure:"webhook"`
}

// FileConfig holds file shipper configuration.
type FileConfig struct {
	Path string `mapstructure:"path"`
}

// WebhookConfig holds webhook shipper configuration.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// NewShipper builds a shipper fan-out from configuration. Returns nil when no
// destination is enabled, which callers treat as "shipping disabled".
func NewShipper(configs []ShipperConfig) (Shipper, error) {
	shippers := make([]Shipper, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		switch cfg.Type {
		case "file":
			if cfg.File == nil || cfg.File.Path == "" {
				return nil, fmt.Errorf("file shipper requires a path")
			}
			s, err := NewFileShipper(cfg.File)
			if err != nil {
				return nil, fmt.Errorf("failed to create file shipper: %w", err)
			}
			shippers = append(shippers, s)
		case "webhook":
			if cfg.Webhook == nil || cfg.Webhook.URL == "" {
				return nil, fmt.Errorf("webhook shipper requires a url")
			}
			shippers = append(shippers, NewWebhookShipper(cfg.Webhook))
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
	}

	if len(shippers) == 0 {
		return nil, nil
	}
	if len(shippers) == 1 {
		return shippers[0], nil
	}
	return &MultiShipper{shippers: shippers}, nil
}

// MultiShipper fans one entry out to several destinations. Each destination
// is attempted even when an earlier one fails; the last error is returned so
// the caller's log line reflects that something went wrong.
type MultiShipper struct {
	mu       sync.RWMutex
	shippers []Shipper
}

// Ship sends the entry to all destinations.
func (ms *MultiShipper) Ship(ctx context.Context, entry *Entry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			lastErr = err
			slog.Warn("audit shipper destination failed", "error", err)
		}
	}
	return lastErr
}

// Close closes all destinations.
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// FileShipper appends one JSON line per entry to a local file.
type FileShipper struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the destination file in append mode.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", cfg.Path, err)
	}
	return &FileShipper{file: f}, nil
}

// Ship writes the entry as one JSON line.
func (fs *FileShipper) Ship(_ context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}

// WebhookShipper POSTs each entry as JSON to a configured endpoint.
type WebhookShipper struct {
	cfg    *WebhookConfig
	client *http.Client
}

// NewWebhookShipper creates a webhook shipper with the configured timeout.
func NewWebhookShipper(cfg *WebhookConfig) *WebhookShipper {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Ship POSTs the entry to the webhook endpoint.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (ws *WebhookShipper) Close() error { return nil }
