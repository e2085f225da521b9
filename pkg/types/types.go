package types

import (
	"time"
)

// Project represents a registered local repository
type Project struct {
	ID           string    `json:"id"`
	RepoName     string    `json:"repo_name"`
	RepoRootHash string    `json:"repo_root_hash"`
	OrgID        string    `json:"org_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Plan represents an immutable change plan for a project
type Plan struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	CreatedAt          time.Time      `json:"created_at"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty"`
	ApprovedRepoCommit string         `json:"approved_repo_commit,omitempty"`
	ArtifactsManifest  []string       `json:"artifacts_manifest"`
	Tasks              *TasksDocument `json:"tasks_document"`
	InputRecord        *PlanInput     `json:"input_record"`
}

// Approved reports whether the plan has been approved
func (p *Plan) Approved() bool {
	return p.ApprovedAt != nil
}

// PlanInput records what the user supplied when the plan was created
type PlanInput struct {
	Text        string   `json:"text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// TasksDocument is the ordered, phased task list of a plan
type TasksDocument struct {
	Phases []*Phase `json:"phases"`
}

// Phase groups ordered tasks; phases themselves are ordered
type Phase struct {
	Name  string      `json:"name"`
	Tasks []*PlanTask `json:"tasks"`
}

// AllTasks returns every task in phase order then task order
func (d *TasksDocument) AllTasks() []*PlanTask {
	if d == nil {
		return nil
	}
	var out []*PlanTask
	for _, ph := range d.Phases {
		out = append(out, ph.Tasks...)
	}
	return out
}

// FindTask returns the task with the given id, or nil
func (d *TasksDocument) FindTask(id string) *PlanTask {
	for _, t := range d.AllTasks() {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// RiskLevel gates downgrades and confirmation requirements
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskStandard RiskLevel = "standard"
	RiskHigh     RiskLevel = "high"
)

// PlanTask is a single task inside a plan's tasks document
type PlanTask struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Type       string     `json:"type"`
	Risk       RiskLevel  `json:"risk"`
	Deps       []string   `json:"deps,omitempty"`
	Scope      *TaskScope `json:"scope,omitempty"`
	Acceptance []string   `json:"acceptance,omitempty"`
	Execution  string     `json:"execution,omitempty"`
	Outputs    []string   `json:"outputs,omitempty"`
}

// TaskScope bounds what a task may touch
type TaskScope struct {
	Paths        []string `json:"paths,omitempty"`
	ExcludePaths []string `json:"exclude_paths,omitempty"`
	Symbols      []string `json:"symbols,omitempty"`
	Queries      []string `json:"queries,omitempty"`
}

// RunState represents the lifecycle state of a run
type RunState string

const (
	RunStateInit      RunState = "INIT"
	RunStateRunning   RunState = "RUNNING"
	RunStatePaused    RunState = "PAUSED"
	RunStateFailed    RunState = "FAILED"
	RunStateCancelled RunState = "CANCELLED"
	RunStateDone      RunState = "DONE"
)

// Terminal reports whether no further transitions are possible
func (s RunState) Terminal() bool {
	return s == RunStateFailed || s == RunStateCancelled || s == RunStateDone
}

// Run represents one orchestrated drive through a plan task
type Run struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	PlanID        string    `json:"plan_id"`
	State         RunState  `json:"state"`
	Lane          string    `json:"lane"`
	Risk          RiskLevel `json:"risk"`
	BudgetCapUSD  float64   `json:"budget_cap_usd"`
	CostToDate    float64   `json:"cost_to_date"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TaskState represents the lifecycle state of a task execution
type TaskState string

const (
	TaskStateRunning TaskState = "RUNNING"
	TaskStateDone    TaskState = "DONE"
	TaskStateFailed  TaskState = "FAILED"
)

// TaskStage is one observable stage of the task pipeline
type TaskStage string

const (
	StagePrepareContext TaskStage = "PREPARE_CONTEXT"
	StageDesign         TaskStage = "DESIGN"
	StageImplementPatch TaskStage = "IMPLEMENT_PATCH"
	StageLocalVerify    TaskStage = "LOCAL_VERIFY"
	StageSelfReview     TaskStage = "SELF_REVIEW"
	StageProposeApply   TaskStage = "PROPOSE_APPLY"
)

// TaskExecution records one execution of a plan task inside a run.
// Exactly one active record exists per (run_id, plan_task_id).
type TaskExecution struct {
	ID             string          `json:"id"`
	RunID          string          `json:"run_id"`
	PlanTaskID     string          `json:"plan_task_id"`
	State          TaskState       `json:"state"`
	RouterDecision *RouterDecision `json:"router_decision,omitempty"`
	PatchPath      string          `json:"patch_path,omitempty"`
	PatchText      string          `json:"patch_text,omitempty"`
	ChangedFiles   []string        `json:"changed_files,omitempty"`
	TokensIn       int             `json:"tokens_in"`
	TokensOut      int             `json:"tokens_out"`
	CostUSD        float64         `json:"cost_usd"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RouterDecision is the record of model selection for a task
type RouterDecision struct {
	SelectedModel    string   `json:"selected_model"`
	Reasons          []string `json:"reasons"`
	ExpectedTokens   int      `json:"expected_tokens"`
	ExpectedCostUSD  float64  `json:"expected_cost_usd"`
	FallbackChain    []string `json:"fallback_chain"`
	DowngradeApplied bool     `json:"downgrade_applied"`
	BudgetViolation  bool     `json:"budget_violation"`
	Constraints      []string `json:"constraints,omitempty"`
}

// PackMode distinguishes a bare manifest from one hydrated with content hashes
type PackMode string

const (
	PackModeManifest PackMode = "manifest"
	PackModeHydrated PackMode = "hydrated"
)

// ContextPack is the per-task manifest of what to show the model
type ContextPack struct {
	PackID         string         `json:"pack_id"`
	RunID          string         `json:"run_id"`
	TaskID         string         `json:"task_id"`
	ProjectID      string         `json:"project_id"`
	Mode           PackMode       `json:"mode"`
	PinnedSources  []string       `json:"pinned_sources"`
	FileEntries    []*FileEntry   `json:"file_entries"`
	Signals        Signals        `json:"signals"`
	Budgets        Budgets        `json:"budgets"`
	RedactionStats RedactionStats `json:"redaction_stats"`
	CreatedAt      time.Time      `json:"created_at"`
}

// FileEntry is one file referenced by a context pack
type FileEntry struct {
	Path  string `json:"path"`
	Why   string `json:"why"`
	Range string `json:"range,omitempty"`
	Hash  string `json:"hash,omitempty"`
}

// Signals carries runtime evidence gathered for a task
type Signals struct {
	FailingTests string `json:"failing_tests,omitempty"`
	Logs         string `json:"logs,omitempty"`
	DiffSummary  string `json:"diff_summary,omitempty"`
}

// Budgets bounds what a context pack may contain
type Budgets struct {
	MaxFiles   int  `json:"max_files"`
	MaxLines   int  `json:"max_lines"`
	GraphDepth int  `json:"graph_depth"`
	TopK       int  `json:"top_k"`
	Hydrate    bool `json:"hydrate"`
}

// RedactionStats counts what the redactor masked while building a pack
type RedactionStats struct {
	MaskedEntries int `json:"masked_entries"`
	MaskedChars   int `json:"masked_chars"`
}

// LedgerEvent is one append-only billing/audit event
type LedgerEvent struct {
	EventID   string                 `json:"event_id"`
	TS        time.Time              `json:"ts"`
	OrgID     string                 `json:"org_id"`
	UserID    string                 `json:"user_id"`
	ProjectID string                 `json:"project_id"`
	RunID     string                 `json:"run_id,omitempty"`
	PlanID    string                 `json:"plan_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Identity is what an API key resolves to
type Identity struct {
	OrgID       string `json:"org_id"`
	UserID      string `json:"user_id"`
	BillingPlan string `json:"billing_plan"`
}

// APIKey maps an opaque bearer token to an identity
type APIKey struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

// RepoState is what the runner reports about the working tree
type RepoState struct {
	HeadCommit  string `json:"head_commit"`
	Dirty       bool   `json:"dirty"`
	Unavailable bool   `json:"unavailable"`
}

// StaleReason explains why a plan is considered stale
type StaleReason string

const (
	StaleRepoUnavailable StaleReason = "repo_state_unavailable"
	StaleWorkingTree     StaleReason = "working_tree_dirty"
	StaleCommitMismatch  StaleReason = "commit_mismatch"
)

// VerifyMode is the ordered severity under which verify gates run
type VerifyMode string

const (
	VerifyTargeted VerifyMode = "targeted"
	VerifyStandard VerifyMode = "standard"
	VerifyStrict   VerifyMode = "strict"
)

var verifyOrder = map[VerifyMode]int{
	VerifyTargeted: 0,
	VerifyStandard: 1,
	VerifyStrict:   2,
}

// MaxVerifyMode returns the stricter of two verify modes
func MaxVerifyMode(a, b VerifyMode) VerifyMode {
	if verifyOrder[b] > verifyOrder[a] {
		return b
	}
	return a
}

// ValidVerifyMode reports whether s names a known verify mode
func ValidVerifyMode(s string) bool {
	_, ok := verifyOrder[VerifyMode(s)]
	return ok
}
