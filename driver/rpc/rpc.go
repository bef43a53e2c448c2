// Package rpc executes SQL through the hosted backend's REST remote
// procedure endpoint. The endpoint only exists if a helper function has
// been created in the database beforehand, which the public API cannot do
// on its own; callers must expect every call to fail on a fresh project.
package rpc

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
	"time"
)

const (
	DefaultFunctionName = "exec_sql"
	DefaultTimeout      = 30 * time.Second

	maxErrorBody = 4096
)

// HelperFunctionSQL creates the function the RPC path relies on. It has to be
// run by hand (SQL editor or direct connection) before Exec can succeed.
const HelperFunctionSQL = `CREATE OR REPLACE FUNCTION exec_sql(sql_query text)
RETURNS void
LANGUAGE plpgsql
SECURITY DEFINER
AS $$
BEGIN
  EXECUTE sql_query;
END;
$$;`

var (
	ErrProjectURLRequired     = errors.New("project url is required")
	ErrServiceRoleKeyRequired = errors.New("service role key is required")
)

type DriverConfig struct {
	ProjectURL     string
	ServiceRoleKey string
	// FunctionName defaults to DefaultFunctionName.
	FunctionName string
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
}

type Driver struct {
	endpoint string
	key      string
	client   *http.Client
}

// Error is returned for non-2xx responses.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rpc status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("rpc status %d: %s", e.StatusCode, e.Message)
}

func NewDriver(config DriverConfig) (*Driver, error) {
	projectURL := strings.TrimRight(strings.TrimSpace(config.ProjectURL), "/")
	if projectURL == "" {
		return nil, ErrProjectURLRequired
	}
	if _, err := url.ParseRequestURI(projectURL); err != nil {
		return nil, fmt.Errorf("invalid project url: %w", err)
	}
	if strings.TrimSpace(config.ServiceRoleKey) == "" {
		return nil, ErrServiceRoleKeyRequired
	}

	functionName := config.FunctionName
	if functionName == "" {
		functionName = DefaultFunctionName
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	return &Driver{
		endpoint: projectURL + "/rest/v1/rpc/" + url.PathEscape(functionName),
		key:      config.ServiceRoleKey,
		client:   client,
	}, nil
}

// Exec sends one statement as {"sql_query": statement}.
func (drv *Driver) Exec(ctx context.Context, statement string) error {
	requestBody, err := json.Marshal(map[string]string{"sql_query": statement})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, drv.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", drv.key)
	req.Header.Set("Authorization", "Bearer "+drv.key)

	res, err := drv.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read rpc error body: %w", err)
	}

	return parseError(res.StatusCode, body)
}

// ProvisionHelper tries to create the helper function through the RPC path
// itself. This only succeeds when the helper already exists.
func (drv *Driver) ProvisionHelper(ctx context.Context) error {
	if err := drv.Exec(ctx, HelperFunctionSQL); err != nil {
		return fmt.Errorf("failed to provision %s helper: %w", DefaultFunctionName, err)
	}
	return nil
}

func parseError(statusCode int, body []byte) *Error {
	rpcErr := &Error{StatusCode: statusCode}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		rpcErr.Code = payload.Code
		rpcErr.Message = payload.Message
		return rpcErr
	}

	rpcErr.Message = strings.TrimSpace(string(body))
	if rpcErr.Message == "" {
		rpcErr.Message = http.StatusText(statusCode)
	}
	return rpcErr
}
