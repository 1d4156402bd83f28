// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tombee/skillrunner/pkg/capability"
)

// HTTPConfig holds configuration for HTTP capabilities.
type HTTPConfig struct {
	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// MaxResponseBytes caps the response body size (default: 10MB)
	MaxResponseBytes int64

	// Client overrides the HTTP client (mainly for tests)
	Client *http.Client
}

func (c *HTTPConfig) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
}

// HTTPGet performs GET requests. Registered as "http.get".
type HTTPGet struct {
	config *HTTPConfig
}

// NewHTTPGet creates the HTTP GET capability.
func NewHTTPGet(config *HTTPConfig) *HTTPGet {
	if config == nil {
		config = &HTTPConfig{}
	}
	config.defaults()
	return &HTTPGet{config: config}
}

// Name implements capability.Capability.
func (h *HTTPGet) Name() string { return "http.get" }

// Description implements capability.Capability.
func (h *HTTPGet) Description() string { return "Performs an HTTP GET request" }

// Invoke implements capability.Capability.
func (h *HTTPGet) Invoke(ctx context.Context, args map[string]interface{}) (*capability.Outcome, error) {
	return doRequest(ctx, h.config, http.MethodGet, args)
}

// HTTPPost performs POST requests. Registered as "http.post".
type HTTPPost struct {
	config *HTTPConfig
}

// NewHTTPPost creates the HTTP POST capability.
func NewHTTPPost(config *HTTPConfig) *HTTPPost {
	if config == nil {
		config = &HTTPConfig{}
	}
	config.defaults()
	return &HTTPPost{config: config}
}

// Name implements capability.Capability.
func (h *HTTPPost) Name() string { return "http.post" }

// Description implements capability.Capability.
func (h *HTTPPost) Description() string { return "Performs an HTTP POST request" }

// Invoke implements capability.Capability.
func (h *HTTPPost) Invoke(ctx context.Context, args map[string]interface{}) (*capability.Outcome, error) {
	return doRequest(ctx, h.config, http.MethodPost, args)
}

func doRequest(ctx context.Context, config *HTTPConfig, method string, args map[string]interface{}) (*capability.Outcome, error) {
	start := time.Now()

	url, ok := args["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("url is required")
	}

	var body io.Reader
	if raw, ok := args["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if headers, ok := args["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := config.Client.Do(req)
	if err != nil {
		return &capability.Outcome{
			Success:  false,
			Duration: time.Since(start),
			Error:    err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseBytes))
	if err != nil {
		return &capability.Outcome{
			Success:  false,
			Duration: time.Since(start),
			Error:    fmt.Sprintf("reading response body: %s", err),
		}, nil
	}

	outcome := &capability.Outcome{
		Result:   string(data),
		Duration: time.Since(start),
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		outcome.Success = true
	} else {
		outcome.Error = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return outcome, nil
}
