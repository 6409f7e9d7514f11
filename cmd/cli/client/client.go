// Package client is the small HTTP client chaosctl commands share.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/cmd/cli/config"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("status %d: %s (%s)", e.Status, e.Message, strings.Join(parts, "; "))
}

// Do sends payload as JSON to path and decodes the response into out.
// Requests carry the stored token unless anonymous is true.
// out may be nil. A 502 with a run record body still decodes into out.
func Do(ctx context.Context, method, path string, payload, out interface{}, anonymous bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, config.APIURL()+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !anonymous {
		token, err := config.ReadToken()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if out != nil && len(data) > 0 {
			return json.Unmarshal(data, out)
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var e struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		apiErr.Message, apiErr.Fields = e.Error, e.Fields
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if out != nil && resp.StatusCode == http.StatusBadGateway {
		_ = json.Unmarshal(data, out)
	}
	return apiErr
}

func Get(ctx context.Context, path string, out interface{}) error {
	return Do(ctx, http.MethodGet, path, nil, out, false)
}

func Post(ctx context.Context, path string, payload, out interface{}) error {
	return Do(ctx, http.MethodPost, path, payload, out, false)
}

func Delete(ctx context.Context, path string) error {
	return Do(ctx, http.MethodDelete, path, nil, nil, false)
}
