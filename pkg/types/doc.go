/*
Package types defines the core data structures used throughout TRCODER.

This package contains all fundamental types that represent TRCODER's domain
model: projects, plans, tasks, runs, context packs, ledger events, router
decisions, and the identity attached to API keys. These types are used by all
other packages for state management, API responses, and orchestration logic.

# Core Types

Planning:
  - Project: A registered local repository, keyed by repo root hash
  - Plan: An immutable plan with one-shot approval at a repo commit
  - TasksDocument / PlanTask: The ordered, phased task list of a plan

Execution:
  - Run: One orchestrated drive through a plan task
  - RunState: INIT, RUNNING, PAUSED, FAILED, CANCELLED, DONE
  - TaskExecution: The per-(run, task) execution record with patch and cost
  - TaskStage: The observable pipeline stages of a task

Context:
  - ContextPack: The per-task manifest of pinned files, signals and budgets
  - FileEntry, Signals, Budgets, RedactionStats

Billing:
  - LedgerEvent: One append-only billing/audit event
  - RouterDecision: The record of model selection for a task

# State Machine

Runs follow a state machine:

	INIT → RUNNING → (PAUSED ↔ RUNNING) → DONE | FAILED | CANCELLED

Task stages are always observed in pipeline order:

	PREPARE_CONTEXT → DESIGN → IMPLEMENT_PATCH → LOCAL_VERIFY →
	SELF_REVIEW → PROPOSE_APPLY

# Design Patterns

All enums use typed string constants. All types carry JSON tags in snake_case
because they cross the wire (HTTP responses, SSE payloads) and land in the
BoltDB store as JSON values.
*/
package types
