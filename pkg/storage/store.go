package storage

import (
	"errors"
	"time"

	"github.com/trcoder/trcoder/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEvent is returned when a ledger event id is appended twice.
	// The ledger is strictly append-only; a duplicate indicates a programmer
	// error and must hard-fail the write.
	ErrDuplicateEvent = errors.New("duplicate ledger event")

	// ErrAlreadyApproved is returned when approving a plan a second time
	ErrAlreadyApproved = errors.New("plan already approved")
)

// Store defines the interface for server state storage.
// The server process exclusively owns everything behind it.
type Store interface {
	// Projects. Creation is idempotent by repo root hash.
	CreateProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	GetProjectByRootHash(hash string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)

	// Plans. Immutable except one-time approval.
	CreatePlan(plan *types.Plan) error
	GetPlan(id string) (*types.Plan, error)
	ApprovePlan(id, repoCommit string, at time.Time) (*types.Plan, error)
	LatestPlan(projectID string) (*types.Plan, error)
	LatestApprovedPlan(projectID string) (*types.Plan, error)

	// Runs
	CreateRun(run *types.Run) error
	GetRun(id string) (*types.Run, error)
	UpdateRun(run *types.Run) error
	ListRunsByProject(projectID string) ([]*types.Run, error)

	// Task executions
	CreateTaskExecution(exec *types.TaskExecution) error
	GetTaskExecution(id string) (*types.TaskExecution, error)
	GetTaskExecutionForRunTask(runID, planTaskID string) (*types.TaskExecution, error)
	UpdateTaskExecution(exec *types.TaskExecution) error
	ListTaskExecutionsByRun(runID string) ([]*types.TaskExecution, error)

	// Context packs
	SavePack(pack *types.ContextPack) error
	GetPack(packID string) (*types.ContextPack, error)
	ListPacksByProject(projectID string) ([]*types.ContextPack, error)

	// API keys
	PutAPIKey(key *types.APIKey) error
	GetAPIKey(token string) (*types.APIKey, error)
	DeleteAPIKey(token string) error

	// Ledger. Append-only; the single source of truth for derived numbers.
	AppendEvent(event *types.LedgerEvent) error
	ListEventsInRange(start, end time.Time) ([]*types.LedgerEvent, error)
	TailEventsForRun(runID string, limit int) ([]*types.LedgerEvent, error)
	ListEventsByType(projectID, eventType string, limit int) ([]*types.LedgerEvent, error)
	AllEvents() ([]*types.LedgerEvent, error)

	// Utility
	Close() error
}
