package types

// Ledger event types. The ledger is the single source of truth for every
// derived billing and session number; these constants name its vocabulary.
const (
	EventProjectConnected  = "PROJECT_CONNECTED"
	EventPlanCreated       = "PLAN_CREATED"
	EventPlanApproved      = "PLAN_APPROVED"
	EventPlanStatus        = "PLAN_STATUS"
	EventRunStarted        = "RUN_STARTED"
	EventRunPaused         = "RUN_PAUSED"
	EventRunResumed        = "RUN_RESUMED"
	EventRunCancelled      = "RUN_CANCELLED"
	EventRunCompleted      = "RUN_COMPLETED"
	EventTaskStarted       = "TASK_STARTED"
	EventTaskStage         = "TASK_STAGE"
	EventTaskCompleted     = "TASK_COMPLETED"
	EventTaskFailed        = "TASK_FAILED"
	EventRouterDecision    = "ROUTER_DECISION"
	EventContextPackBuilt  = "CONTEXT_PACK_BUILT"
	EventLLMCallStarted    = "LLM_CALL_STARTED"
	EventLLMCallFinished   = "LLM_CALL_FINISHED"
	EventPatchProduced     = "PATCH_PRODUCED"
	EventVerifyStarted     = "VERIFY_STARTED"
	EventVerifyFinished    = "VERIFY_FINISHED"
	EventRunnerCmdStarted  = "RUNNER_CMD_STARTED"
	EventRunnerCmdFinished = "RUNNER_CMD_FINISHED"
	EventRunnerCmdBlocked  = "RUNNER_CMD_BLOCKED"
	EventRunnerAuthFailed  = "RUNNER_AUTH_FAILED"
	EventAnomalyDetected   = "ANOMALY_DETECTED"
	EventBillingPosted     = "BILLING_POSTED"
	EventCreditGranted     = "CREDIT_GRANTED"
	EventCreditConsumed    = "CREDIT_CONSUMED"
	EventApplyStarted      = "APPLY_STARTED"
	EventApplyFinished     = "APPLY_FINISHED"
)

// Stream event types emitted to SSE subscribers via the run event hub.
const (
	StreamRunBanner        = "RUN_BANNER"
	StreamTaskStarted      = "TASK_STARTED"
	StreamTaskStage        = "TASK_STAGE"
	StreamTaskResult       = "TASK_RESULT"
	StreamTaskCompleted    = "TASK_COMPLETED"
	StreamRouterDecision   = "ROUTER_DECISION"
	StreamContextPackBuilt = "CONTEXT_PACK_BUILT"
	StreamAnomaly          = "ANOMALY"
	StreamVerifyFinished   = "VERIFY_FINISHED"
	StreamPermissionDenied = "PERMISSION_DENIED"
	StreamSessionStats     = "SESSION_STATS"
	StreamRunPaused        = "RUN_PAUSED"
	StreamRunCompleted     = "RUN_COMPLETED"
)

// StreamEvent is one event delivered to SSE subscribers, ordered per run
type StreamEvent struct {
	RunID   string                 `json:"run_id"`
	Type    string                 `json:"type"`
	Seq     uint64                 `json:"seq"`
	TS      int64                  `json:"ts"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
