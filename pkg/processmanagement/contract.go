package processmanagement

import (
	"context"

	"github.com/core-tools/hsu-supervisor-go/pkg/domain"
	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
)

// RunLister is the read side of the run history
type RunLister interface {
	ListRuns(ctx context.Context, app string, limit int) ([]domain.Run, error)
}

// NewDomainHandler exposes a ProcessManager as the operator contract served by
// the control API. runs may be nil when run history is disabled.
func NewDomainHandler(manager ProcessManager, runs RunLister) domain.Contract {
	return &domainHandler{
		manager: manager,
		runs:    runs,
	}
}

type domainHandler struct {
	manager ProcessManager
	runs    RunLister
}

func (h *domainHandler) Ping(ctx context.Context) error {
	if state := h.manager.GetManagerState(); state != ProcessManagerStateRunning {
		return errors.NewConflictError("process manager is not running", nil).WithContext("state", string(state))
	}
	return nil
}

func (h *domainHandler) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	return h.manager.ListApps(ctx), nil
}

func (h *domainHandler) GetApp(ctx context.Context, name string) (domain.AppStatus, error) {
	return h.manager.GetAppStatus(ctx, name)
}

func (h *domainHandler) StartApp(ctx context.Context, name string) error {
	return h.manager.StartApp(ctx, name)
}

func (h *domainHandler) StopApp(ctx context.Context, name string) error {
	return h.manager.StopApp(ctx, name)
}

func (h *domainHandler) RestartApp(ctx context.Context, name string) error {
	return h.manager.RestartApp(ctx, name)
}

func (h *domainHandler) ResetApp(ctx context.Context, name string) error {
	return h.manager.ResetApp(ctx, name)
}

func (h *domainHandler) ListRuns(ctx context.Context, name string, limit int) ([]domain.Run, error) {
	if h.runs == nil {
		return nil, errors.NewNotFoundError("run history is disabled", nil).WithContext("app", name)
	}
	if _, err := h.manager.GetAppStatus(ctx, name); err != nil {
		return nil, err
	}
	return h.runs.ListRuns(ctx, name, limit)
}
