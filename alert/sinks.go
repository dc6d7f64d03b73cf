package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// Sink consumes a subscription until its channel closes.
type Sink interface {
	Run(sub *Subscription)
}

// StartSinks subscribes and launches each sink on its own goroutine.
// The returned wait function blocks until every sink has drained after the
// bus closes.
func StartSinks(bus *Bus, sinks map[string]Sink) (wait func()) {
	var wg sync.WaitGroup
	for name, sink := range sinks {
		sub := bus.Subscribe(name, 0)
		wg.Add(1)
		go func(s Sink, sub *Subscription) {
			defer wg.Done()
			s.Run(sub)
		}(sink, sub)
	}
	return wg.Wait
}

// LogSink writes every alert to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Run consumes the subscription.
func (s *LogSink) Run(sub *Subscription) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for msg := range sub.C() {
		level := slog.LevelInfo
		switch msg.Severity {
		case model.SeverityWarning:
			level = slog.LevelWarn
		case model.SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, "alert",
			"type", string(msg.Type), "severity", string(msg.Severity), "data", msg.Data)
	}
}

// WebhookSink POSTs each alert as JSON to a configured URL.
type WebhookSink struct {
	URL    string
	Logger *slog.Logger

	client *http.Client
	once   sync.Once
}

// Run consumes the subscription.
func (s *WebhookSink) Run(sub *Subscription) {
	s.once.Do(func() {
		s.client = &http.Client{Timeout: 5 * time.Second}
	})
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := validateWebhookURL(s.URL); err != nil {
		logger.Warn("webhook sink disabled", "error", err)
		for range sub.C() {
		}
		return
	}
	for msg := range sub.C() {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		req, err := http.NewRequest(http.MethodPost, s.URL, bytes.NewReader(data))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			logger.Warn("webhook send failed", "error", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// validateWebhookURL rejects non-http schemes and a fixed list of loopback
// and cloud-metadata host names.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https, got %q", scheme)
	}
	host := strings.ToLower(u.Hostname())
	blocked := []string{"169.254.169.254", "metadata.google.internal", "localhost", "127.0.0.1", "::1", "[::1]"}
	for _, b := range blocked {
		if host == b {
			return fmt.Errorf("webhook URL host %q is blocked", host)
		}
	}
	return nil
}

// CommandSink runs a shell command per alert with the payload in the
// environment.
type CommandSink struct {
	Command string
	Logger  *slog.Logger
}

// Run consumes the subscription.
func (s *CommandSink) Run(sub *Subscription) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for msg := range sub.C() {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cmd := exec.CommandContext(ctx, "sh", "-c", s.Command)
		cmd.Env = append(os.Environ(),
			"RANSOMD_ALERT_TYPE="+string(msg.Type),
			"RANSOMD_ALERT_PAYLOAD="+string(data))
		if err := cmd.Run(); err != nil {
			logger.Warn("alert command failed", "error", err)
		}
		cancel()
	}
}
