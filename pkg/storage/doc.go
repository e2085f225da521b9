/*
Package storage persists all server-owned state to BoltDB.

This package defines the Store interface and its BoltDB implementation. It
holds projects, plans, runs, task executions, context packs, API keys, and
the append-only ledger.

# Ledger Semantics

The ledger is the single source of truth for every billable number: usage,
invoices, session stats, and cost-explain are all recomputed from it, never
stored. The only write operation is AppendEvent, which hard-fails with
ErrDuplicateEvent when an event id is reused. Events are keyed by a
zero-padded timestamp so range scans return them in non-decreasing ts order.

# Storage Layout

All records are stored as JSON values in per-entity buckets:

  - projects, projects_by_hash (idempotency index)
  - plans
  - runs
  - task_executions
  - context_packs
  - api_keys
  - ledger, ledger_ids (uniqueness index)

# Thread Safety

BoltDB serializes writers and allows concurrent readers; callers need no
additional locking for Store operations.
*/
package storage
