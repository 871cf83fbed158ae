package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"
)

type ClientOptions struct {
	// Address of the control API, host:port or a full http URL
	Address string
	Timeout time.Duration
}

const defaultClientTimeout = 30 * time.Second

// NewClient returns a domain.Contract backed by the control API of a running supervisor.
// Transport failures are reported as IO errors so callers can retry them.
func NewClient(options ClientOptions, logger logging.Logger) domain.Contract {
	address := options.Address
	if address == "" {
		address = DefaultAddress
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	return &client{
		baseURL:    strings.TrimSuffix(address, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

func (c *client) Ping(ctx context.Context) error {
	var response HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", &response); err != nil {
		c.logger.Debugf("Ping client: %v", err)
		return err
	}
	c.logger.Debugf("Ping client done, status: %s", response.Status)
	return nil
}

func (c *client) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	var apps []domain.AppStatus
	if err := c.do(ctx, http.MethodGet, "/api/apps", &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func (c *client) GetApp(ctx context.Context, name string) (domain.AppStatus, error) {
	var app domain.AppStatus
	if err := c.do(ctx, http.MethodGet, appPath(name), &app); err != nil {
		return domain.AppStatus{}, err
	}
	return app, nil
}

func (c *client) StartApp(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, appPath(name)+"/start", nil)
}

func (c *client) StopApp(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, appPath(name)+"/stop", nil)
}

func (c *client) RestartApp(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, appPath(name)+"/restart", nil)
}

func (c *client) ResetApp(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, appPath(name)+"/reset", nil)
}

func (c *client) ListRuns(ctx context.Context, name string, limit int) ([]domain.Run, error) {
	path := appPath(name) + "/runs"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var runs []domain.Run
	if err := c.do(ctx, http.MethodGet, path, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func appPath(name string) string {
	return "/api/apps/" + url.PathEscape(name)
}

func (c *client) do(ctx context.Context, method, path string, result interface{}) error {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return errors.NewValidationError("failed to build request", err).WithContext("path", path)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelledError("request cancelled", ctx.Err()).WithContext("path", path)
		}
		return errors.NewIOError("control API request failed", err).WithContext("url", c.baseURL+path)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.NewIOError("failed to read response", err).WithContext("path", path)
	}

	if response.StatusCode >= http.StatusBadRequest {
		return decodeError(response.StatusCode, body)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return errors.NewInternalError("failed to decode response", err).WithContext("path", path)
	}
	return nil
}

// decodeError rebuilds the server side DomainError so IsXxxError predicates keep working
func decodeError(statusCode int, body []byte) error {
	var response ErrorResponse
	if err := json.Unmarshal(body, &response); err != nil || response.Error == "" {
		return errors.NewInternalError(fmt.Sprintf("unexpected status %d", statusCode), nil).
			WithContext("body", strings.TrimSpace(string(body)))
	}

	errorType := errors.ErrorType(response.Type)
	if errorType == "" {
		switch statusCode {
		case http.StatusNotFound:
			errorType = errors.ErrorTypeNotFound
		case http.StatusConflict, http.StatusServiceUnavailable:
			errorType = errors.ErrorTypeConflict
		default:
			errorType = errors.ErrorTypeInternal
		}
	}

	return &errors.DomainError{
		Type:    errorType,
		Message: response.Error,
	}
}
