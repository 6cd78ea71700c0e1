// Package supabase talks to a Supabase project: GoTrue for identities and
// PostgREST for the profile table. Both authenticate with the service key.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tyemirov/tusers/internal/gateway"
	"go.uber.org/zap"
)

const maxErrorBodyBytes = 64 << 10

var (
	errMissingBaseURL    = errors.New("supabase.missing_url")
	errMissingServiceKey = errors.New("supabase.missing_key")
)

// Client issues authenticated requests against a Supabase project.
type Client struct {
	baseURL    *url.URL
	serviceKey string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates baseURL and serviceKey. A nil httpClient uses http.DefaultClient;
// per-call deadlines come from the request context.
func NewClient(baseURL string, serviceKey string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("supabase.new_client: %w", errMissingBaseURL)
	}
	if strings.TrimSpace(serviceKey) == "" {
		return nil, fmt.Errorf("supabase.new_client: %w", errMissingServiceKey)
	}
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("supabase.new_client: invalid url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: parsed, serviceKey: serviceKey, httpClient: httpClient, logger: logger}, nil
}

// APIError is a non-2xx response from GoTrue or PostgREST.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (apiErr *APIError) Error() string {
	if apiErr.Code != "" {
		return fmt.Sprintf("supabase status %d (%s): %s", apiErr.Status, apiErr.Code, apiErr.Message)
	}
	return fmt.Sprintf("supabase status %d: %s", apiErr.Status, apiErr.Message)
}

type request struct {
	method  string
	path    string
	query   url.Values
	bearer  string
	headers map[string]string
	body    any
}

// do sends the request and decodes a 2xx body into out. Transport failures are
// classified as gateway.ErrGatewayUnavailable; non-2xx responses return *APIError.
func (client *Client) do(ctx context.Context, call request, out any) error {
	endpoint := *client.baseURL
	endpoint.Path = client.baseURL.Path + call.path
	if len(call.query) > 0 {
		endpoint.RawQuery = call.query.Encode()
	}

	var payload io.Reader
	if call.body != nil {
		encoded, err := json.Marshal(call.body)
		if err != nil {
			return fmt.Errorf("supabase.encode: %w: %w", gateway.ErrValidation, err)
		}
		payload = bytes.NewReader(encoded)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, call.method, endpoint.String(), payload)
	if err != nil {
		return fmt.Errorf("supabase.request: %w", err)
	}
	bearer := call.bearer
	if bearer == "" {
		bearer = client.serviceKey
	}
	httpRequest.Header.Set("apikey", client.serviceKey)
	httpRequest.Header.Set("Authorization", "Bearer "+bearer)
	httpRequest.Header.Set("Accept", "application/json")
	if payload != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	for name, value := range call.headers {
		httpRequest.Header.Set(name, value)
	}

	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("supabase.transport: %w: %w", gateway.ErrGatewayUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := decodeAPIError(response)
		client.logger.Debug("supabase request rejected",
			zap.String("code", "supabase.response.rejected"),
			zap.String("method", call.method),
			zap.String("path", call.path),
			zap.Int("status", apiErr.Status),
			zap.String("error_code", apiErr.Code))
		if apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests {
			return fmt.Errorf("supabase.response: %w: %w", gateway.ErrGatewayUnavailable, apiErr)
		}
		return apiErr
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("supabase.decode: %w: %w", gateway.ErrGatewayUnavailable, err)
	}
	return nil
}

// decodeAPIError reads the error shapes used by GoTrue ({error_code, msg},
// {error, error_description}) and PostgREST ({code, message}).
func decodeAPIError(response *http.Response) *APIError {
	apiErr := &APIError{Status: response.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	var fields map[string]any
	if json.Unmarshal(raw, &fields) != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Code = firstString(fields, "error_code", "code", "error")
	apiErr.Message = firstString(fields, "msg", "message", "error_description", "error")
	return apiErr
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := fields[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
