package model

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RetryConfig represents exponential backoff retry configuration
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" bson:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms" bson:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" bson:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier" bson:"multiplier"`
}

// SetDefaults sets default values for retry configuration
func (rc *RetryConfig) SetDefaults() {
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelayMs == 0 {
		rc.InitialDelayMs = 1000
	}
	if rc.MaxDelayMs == 0 {
		rc.MaxDelayMs = 30000
	}
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
}

// Webhook represents the run notification webhook configuration
type Webhook struct {
	URL         string            `json:"url" bson:"url"`
	Method      string            `json:"method" bson:"method"`
	Headers     map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty" bson:"timeout,omitempty"`
	RetryConfig RetryConfig       `json:"retry_config,omitempty" bson:"retry_config,omitempty"`
}

// Validate validates webhook configuration
func (w *Webhook) Validate() error {
	if w.URL == "" {
		return errors.New("webhook URL is required")
	}

	parsedURL, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("webhook URL must start with http:// or https://")
	}

	if w.Method == "" {
		w.Method = "POST"
	}
	w.Method = strings.ToUpper(w.Method)

	if w.Timeout == 0 {
		w.Timeout = 10 * time.Second
	}

	w.RetryConfig.SetDefaults()

	return nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
