// Module wiring and route registration for the automation context.
package automation

import (
	"github.com/jackc/pgx/v5/pgxpool"

	agentrepo "leadflow_backend/internal/agents/repository"
	"leadflow_backend/internal/assignment"
	taskrepo "leadflow_backend/internal/automation/repository"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	leadrepo "leadflow_backend/internal/leads/repository"
	meetrepo "leadflow_backend/internal/meetings/repository"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/outbox"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// Module is the lead lifecycle automation bounded context.
type Module struct {
	coordinator *Coordinator
	planner     *Planner
	executor    *Executor
	register    func(ctx *apphttp.RouterContext)
}

// NewModule wires the automation context over the shared pool. The
// dispatcher is used for the synchronous manual path only; background
// delivery goes through the outbox.
func NewModule(
	pool *pgxpool.Pool,
	cfg config.AutomationConfig,
	dispatcher notification.Dispatcher,
	bus events.Bus,
	log *logger.Logger,
) *Module {
	tasks := taskrepo.New(pool)
	leads := leadrepo.New(pool)
	agents := agentrepo.New(pool)
	meetings := meetrepo.New(pool)
	queue := outbox.New(pool)

	assigner := assignment.NewService(agents, leads, cfg.GetAssignmentRequireSchedulingLink(), log)
	planner := NewPlanner(tasks, meetings, log)
	executor := NewExecutor(tasks, leads, agents, meetings, queue, planner,
		cfg.GetGenericSchedulingURL(), log)
	coordinator := NewCoordinator(assigner, tasks, leads, meetings, queue,
		planner, agents, dispatcher, cfg.GetGenericSchedulingURL(), bus, log)

	return &Module{
		coordinator: coordinator,
		planner:     planner,
		executor:    executor,
	}
}

func (m *Module) Name() string {
	return "automation"
}

// Coordinator exposes the lifecycle entry points to other contexts.
func (m *Module) Coordinator() *Coordinator {
	return m.coordinator
}

// Planner exposes reminder planning to the scheduler process.
func (m *Module) Planner() *Planner {
	return m.planner
}

// Executor exposes task execution to the scheduler process.
func (m *Module) Executor() *Executor {
	return m.executor
}

// SetRouteRegistrar injects the HTTP handler registration. The handler
// lives in its own package; main wires it in.
func (m *Module) SetRouteRegistrar(fn func(ctx *apphttp.RouterContext)) {
	m.register = fn
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if m.register != nil {
		m.register(ctx)
	}
}

var _ apphttp.Module = (*Module)(nil)
