// Package contextpack builds and maintains the per-task manifest of what to
// show the model: pinned files, gathered signals, and budgets. Packs are
// immutable once saved; a rebuild mints a new pack id and the old pack is
// retained.
package contextpack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/redact"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// RepoReader is the slice of the runner bridge the manager needs to hydrate
// file entries. The server never touches files directly.
type RepoReader interface {
	ReadFile(ctx context.Context, projectID, filePath string) (string, error)
}

// Manager builds, persists and rebuilds context packs
type Manager struct {
	store  storage.Store
	reader RepoReader
}

// NewManager creates a context pack manager
func NewManager(store storage.Store, reader RepoReader) *Manager {
	return &Manager{store: store, reader: reader}
}

// Build assembles a manifest pack from sanitized pins and redacted signals.
// The pack id embeds run, task and a monotonic timestamp so rebuilds never
// collide.
func (m *Manager) Build(runID, taskID, projectID string, budgets types.Budgets, pins []string, signals types.Signals) *types.ContextPack {
	pack := &types.ContextPack{
		PackID:    newPackID(runID, taskID),
		RunID:     runID,
		TaskID:    taskID,
		ProjectID: projectID,
		Mode:      types.PackModeManifest,
		Budgets:   budgets,
		CreatedAt: time.Now(),
	}

	sanitized, dropped := SanitizePins(pins)
	if dropped > 0 {
		logger := log.WithComponent("contextpack")
		logger.Warn().
			Int("dropped", dropped).
			Str("task_id", taskID).
			Msg("dropped unsafe pinned sources")
	}
	pack.PinnedSources = sanitized

	for _, pin := range sanitized {
		if budgets.MaxFiles > 0 && len(pack.FileEntries) >= budgets.MaxFiles {
			break
		}
		pack.FileEntries = append(pack.FileEntries, &types.FileEntry{
			Path: pin,
			Why:  "pinned",
		})
	}

	pack.Signals, pack.RedactionStats = redactSignals(signals)

	return pack
}

// Save persists the pack for its project
func (m *Manager) Save(pack *types.ContextPack) error {
	return m.store.SavePack(pack)
}

// Rebuild creates a new pack from an existing one, preserving run and task
// but minting a fresh pack id. Nil budgets or pins keep the old values.
func (m *Manager) Rebuild(packID string, newBudgets *types.Budgets, newPins []string) (*types.ContextPack, error) {
	old, err := m.store.GetPack(packID)
	if err != nil {
		return nil, fmt.Errorf("rebuild source pack: %w", err)
	}

	budgets := old.Budgets
	if newBudgets != nil {
		budgets = *newBudgets
	}
	pins := old.PinnedSources
	if newPins != nil {
		pins = newPins
	}

	pack := m.Build(old.RunID, old.TaskID, old.ProjectID, budgets, pins, old.Signals)
	if err := m.Save(pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// Enrich hydrates file entries by reading each file through the runner,
// recording a content hash and line range. Files the runner cannot read keep
// their bare manifest entry.
func (m *Manager) Enrich(ctx context.Context, pack *types.ContextPack) *types.ContextPack {
	if m.reader == nil {
		return pack
	}

	for _, entry := range pack.FileEntries {
		content, err := m.reader.ReadFile(ctx, pack.ProjectID, entry.Path)
		if err != nil {
			continue
		}
		sum := sha256.Sum256([]byte(content))
		entry.Hash = hex.EncodeToString(sum[:8])
		lines := strings.Count(content, "\n")
		if len(content) > 0 && !strings.HasSuffix(content, "\n") {
			lines++
		}
		entry.Range = fmt.Sprintf("1-%d", lines)
	}
	pack.Mode = types.PackModeHydrated
	return pack
}

// SanitizePins drops pins that are absolute, escape the repo, or look like
// secret material. The second return is how many entries were dropped.
func SanitizePins(pins []string) ([]string, int) {
	var out []string
	dropped := 0
	for _, pin := range pins {
		if !safePin(pin) {
			dropped++
			continue
		}
		out = append(out, pin)
	}
	return out, dropped
}

func safePin(pin string) bool {
	if pin == "" || strings.HasPrefix(pin, "/") || strings.HasPrefix(pin, "\\") {
		return false
	}
	// Windows drive prefixes count as absolute too.
	if len(pin) > 1 && pin[1] == ':' {
		return false
	}
	for _, part := range strings.FieldsFunc(pin, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	base := strings.ToLower(path.Base(pin))
	if strings.HasPrefix(base, ".env") {
		return false
	}
	lower := strings.ToLower(pin)
	for _, needle := range []string{"secret", "token", "password", "apikey"} {
		if strings.Contains(lower, needle) {
			return false
		}
	}
	return true
}

func redactSignals(signals types.Signals) (types.Signals, types.RedactionStats) {
	var stats types.RedactionStats

	mask := func(s string) string {
		res := redact.Apply(s)
		stats.MaskedEntries += res.MaskedEntries
		stats.MaskedChars += res.MaskedChars
		return res.Text
	}

	return types.Signals{
		FailingTests: mask(signals.FailingTests),
		Logs:         mask(signals.Logs),
		DiffSummary:  mask(signals.DiffSummary),
	}, stats
}

func newPackID(runID, taskID string) string {
	return fmt.Sprintf("pack-%s-%s-%d", runID, taskID, time.Now().UnixNano())
}
