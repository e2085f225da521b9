package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/permission"
)

// TestDefaultRootHonorsEnv tests the TRCODER_CONFIG_ROOT override
func TestDefaultRootHonorsEnv(t *testing.T) {
	t.Setenv(EnvConfigRoot, "/tmp/custom-config")
	root, err := DefaultRoot()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-config", root)

	t.Setenv(EnvConfigRoot, "")
	root, err = DefaultRoot()
	require.NoError(t, err)
	assert.Contains(t, root, filepath.Join(".trcoder", "config"))
}

// TestLoadSeedsDefaults tests that a fresh root gets a complete, valid
// policy set
func TestLoadSeedsDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	for _, name := range []string{
		FileModelStack, FileLanePolicy, FileRiskPolicy,
		FilePricing, FilePermissions, FileVerifyGates,
	} {
		_, err := os.Stat(filepath.Join(root, name))
		assert.NoError(t, err, name)
	}

	assert.NotEmpty(t, cfg.ModelStack.DefaultModel)
	assert.NotEmpty(t, cfg.LanePolicy.Lanes)
	assert.Contains(t, cfg.LanePolicy.Lanes, cfg.LanePolicy.DefaultLane)
	assert.NotEmpty(t, cfg.RiskPolicy.RiskLevels)
	assert.NotEmpty(t, cfg.Pricing.ModelPricingUSDPer1K)
}

// TestEnsureDefaultsPreservesEdits tests that operator edits survive a reload
func TestEnsureDefaultsPreservesEdits(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDefaults(root))

	custom := []byte("default_lane: custom\nlanes:\n  custom:\n    verify_mode: strict\n    token_factor: 1.0\n")
	path := filepath.Join(root, FileLanePolicy)
	require.NoError(t, os.WriteFile(path, custom, 0600))

	require.NoError(t, EnsureDefaults(root))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, custom, data)
}

// TestLoadRejectsMalformedFile tests parse failure surfacing
func TestLoadRejectsMalformedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDefaults(root))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileModelStack), []byte("{not json"), 0600))

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileModelStack)
}

// TestValidateCatchesCrossReferences tests that validation reports every
// broken reference in one pass
func TestValidateCatchesCrossReferences(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)

	cfg.ModelStack.DefaultModel = "ghost-model"
	cfg.LanePolicy.DefaultLane = "ghost-lane"

	err = cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "ghost-model")
	assert.Contains(t, err.Error(), "ghost-lane")
	assert.GreaterOrEqual(t, len(verr.Problems), 2, "both problems reported together")
}

// TestValidateRejectsUnpricedModel tests the model pricing cross-check
func TestValidateRejectsUnpricedModel(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)

	delete(cfg.Pricing.ModelPricingUSDPer1K, cfg.ModelStack.DefaultModel)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unpriced")
}

// TestValidateRejectsMissingSection tests the nil-section guard
func TestValidateRejectsMissingSection(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing policy section")
}

// TestCompilePermissions tests the glob policy built from loaded rules
func TestCompilePermissions(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	require.NoError(t, err)

	policy, err := cfg.CompilePermissions()
	require.NoError(t, err)
	assert.Equal(t, permission.Deny, policy.Classify("git push origin main"))

	cfg.Permissions = permission.Rules{Deny: []string{"[unclosed"}}
	_, err = cfg.CompilePermissions()
	assert.Error(t, err)
}
