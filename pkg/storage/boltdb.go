package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/trcoder/trcoder/pkg/types"
)

var (
	// Bucket names
	bucketProjects     = []byte("projects")
	bucketProjectsHash = []byte("projects_by_hash")
	bucketPlans        = []byte("plans")
	bucketRuns         = []byte("runs")
	bucketTaskExecs    = []byte("task_executions")
	bucketPacks        = []byte("context_packs")
	bucketAPIKeys      = []byte("api_keys")
	bucketLedger       = []byte("ledger")
	bucketLedgerIDs    = []byte("ledger_ids")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "trcoder.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProjects,
			bucketProjectsHash,
			bucketPlans,
			bucketRuns,
			bucketTaskExecs,
			bucketPacks,
			bucketAPIKeys,
			bucketLedger,
			bucketLedgerIDs,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Project operations

// CreateProject inserts a project and its hash index entry. When a project
// with the same repo root hash exists, the existing record wins and no new
// project is written.
func (s *BoltStore) CreateProject(project *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketProjectsHash)
		if existing := idx.Get([]byte(project.RepoRootHash)); existing != nil {
			return nil
		}
		b := tx.Bucket(bucketProjects)
		data, err := json.Marshal(project)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(project.ID), data); err != nil {
			return err
		}
		return idx.Put([]byte(project.RepoRootHash), []byte(project.ID))
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var project types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketProjects, id, &project)
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BoltStore) GetProjectByRootHash(hash string) (*types.Project, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjectsHash).Get([]byte(hash))
		if data == nil {
			return ErrNotFound
		}
		id = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(id)
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			projects = append(projects, &p)
			return nil
		})
	})
	return projects, err
}

// Plan operations

func (s *BoltStore) CreatePlan(plan *types.Plan) error {
	return s.putJSON(bucketPlans, plan.ID, plan)
}

func (s *BoltStore) GetPlan(id string) (*types.Plan, error) {
	var plan types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketPlans, id, &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// ApprovePlan sets approved_at and approved_repo_commit together, once.
func (s *BoltStore) ApprovePlan(id, repoCommit string, at time.Time) (*types.Plan, error) {
	var plan types.Plan
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := getJSON(tx, bucketPlans, id, &plan); err != nil {
			return err
		}
		if plan.Approved() {
			return ErrAlreadyApproved
		}
		plan.ApprovedAt = &at
		plan.ApprovedRepoCommit = repoCommit
		data, err := json.Marshal(&plan)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPlans).Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *BoltStore) LatestPlan(projectID string) (*types.Plan, error) {
	return s.latestPlan(projectID, false)
}

func (s *BoltStore) LatestApprovedPlan(projectID string) (*types.Plan, error) {
	return s.latestPlan(projectID, true)
}

func (s *BoltStore) latestPlan(projectID string, approvedOnly bool) (*types.Plan, error) {
	var latest *types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(k, v []byte) error {
			var p types.Plan
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.ProjectID != projectID {
				return nil
			}
			if approvedOnly && !p.Approved() {
				return nil
			}
			if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
				latest = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Run operations

func (s *BoltStore) CreateRun(run *types.Run) error {
	return s.putJSON(bucketRuns, run.ID, run)
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketRuns, id, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) UpdateRun(run *types.Run) error {
	run.UpdatedAt = time.Now()
	return s.putJSON(bucketRuns, run.ID, run)
}

func (s *BoltStore) ListRunsByProject(projectID string) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var r types.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.ProjectID == projectID {
				runs = append(runs, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Task execution operations

func (s *BoltStore) CreateTaskExecution(exec *types.TaskExecution) error {
	return s.putJSON(bucketTaskExecs, exec.ID, exec)
}

func (s *BoltStore) GetTaskExecution(id string) (*types.TaskExecution, error) {
	var exec types.TaskExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketTaskExecs, id, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// GetTaskExecutionForRunTask returns the most recent execution record for
// (run, plan task). There is exactly one active record per pair.
func (s *BoltStore) GetTaskExecutionForRunTask(runID, planTaskID string) (*types.TaskExecution, error) {
	var found *types.TaskExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskExecs).ForEach(func(k, v []byte) error {
			var e types.TaskExecution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.RunID != runID || e.PlanTaskID != planTaskID {
				return nil
			}
			if found == nil || e.CreatedAt.After(found.CreatedAt) {
				found = &e
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) UpdateTaskExecution(exec *types.TaskExecution) error {
	exec.UpdatedAt = time.Now()
	return s.putJSON(bucketTaskExecs, exec.ID, exec)
}

func (s *BoltStore) ListTaskExecutionsByRun(runID string) ([]*types.TaskExecution, error) {
	var execs []*types.TaskExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskExecs).ForEach(func(k, v []byte) error {
			var e types.TaskExecution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.RunID == runID {
				execs = append(execs, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].CreatedAt.Before(execs[j].CreatedAt)
	})
	return execs, nil
}

// Context pack operations

func (s *BoltStore) SavePack(pack *types.ContextPack) error {
	return s.putJSON(bucketPacks, pack.PackID, pack)
}

func (s *BoltStore) GetPack(packID string) (*types.ContextPack, error) {
	var pack types.ContextPack
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketPacks, packID, &pack)
	})
	if err != nil {
		return nil, err
	}
	return &pack, nil
}

func (s *BoltStore) ListPacksByProject(projectID string) ([]*types.ContextPack, error) {
	var packs []*types.ContextPack
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPacks).ForEach(func(k, v []byte) error {
			var p types.ContextPack
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.ProjectID == projectID {
				packs = append(packs, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(packs, func(i, j int) bool {
		return packs[i].CreatedAt.Before(packs[j].CreatedAt)
	})
	return packs, nil
}

// API key operations

func (s *BoltStore) PutAPIKey(key *types.APIKey) error {
	return s.putJSON(bucketAPIKeys, key.Token, key)
}

func (s *BoltStore) GetAPIKey(token string) (*types.APIKey, error) {
	var key types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketAPIKeys, token, &key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *BoltStore) DeleteAPIKey(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).Delete([]byte(token))
	})
}

// Ledger operations.
//
// Events live under a composite key "<zero-padded unixnano>/<event_id>" so a
// cursor scan yields time order for free. A second bucket keyed by event id
// enforces uniqueness: appending the same event id twice fails the write.

func ledgerKey(e *types.LedgerEvent) []byte {
	return []byte(fmt.Sprintf("%020d/%s", e.TS.UnixNano(), e.EventID))
}

func (s *BoltStore) AppendEvent(event *types.LedgerEvent) error {
	if event.TS.IsZero() {
		event.TS = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketLedgerIDs)
		if ids.Get([]byte(event.EventID)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateEvent, event.EventID)
		}
		key := ledgerKey(event)
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketLedger).Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(event.EventID), key)
	})
}

// ListEventsInRange returns events with start <= ts < end, ordered ts ASC.
func (s *BoltStore) ListEventsInRange(start, end time.Time) ([]*types.LedgerEvent, error) {
	var events []*types.LedgerEvent
	min := []byte(fmt.Sprintf("%020d", start.UnixNano()))
	max := []byte(fmt.Sprintf("%020d", end.UnixNano()))
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLedger).Cursor()
		for k, v := c.Seek(min); k != nil && string(k) < string(max); k, v = c.Next() {
			var e types.LedgerEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, &e)
		}
		return nil
	})
	return events, err
}

// TailEventsForRun returns up to limit most recent events for a run, newest
// first.
func (s *BoltStore) TailEventsForRun(runID string, limit int) ([]*types.LedgerEvent, error) {
	var events []*types.LedgerEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLedger).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e types.LedgerEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.RunID != runID {
				continue
			}
			events = append(events, &e)
			if limit > 0 && len(events) >= limit {
				return nil
			}
		}
		return nil
	})
	return events, err
}

// ListEventsByType returns up to limit events of one type, oldest first.
// An empty projectID matches every project.
func (s *BoltStore) ListEventsByType(projectID, eventType string, limit int) ([]*types.LedgerEvent, error) {
	var events []*types.LedgerEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLedger).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e types.LedgerEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.EventType != eventType {
				continue
			}
			if projectID != "" && e.ProjectID != projectID {
				continue
			}
			events = append(events, &e)
			if limit > 0 && len(events) >= limit {
				return nil
			}
		}
		return nil
	})
	return events, err
}

// AllEvents returns the full ledger, oldest first. Used by export.
func (s *BoltStore) AllEvents() ([]*types.LedgerEvent, error) {
	var events []*types.LedgerEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).ForEach(func(k, v []byte) error {
			var e types.LedgerEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, &e)
			return nil
		})
	})
	return events, err
}

// Helpers

func (s *BoltStore) putJSON(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func getJSON(tx *bolt.Tx, bucket []byte, key string, out interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}
