package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(Rules{
		Allow: []string{"git status*", "git diff*", "go test*", "ls*"},
		Ask:   []string{"go get*", "npm install*"},
		Deny:  []string{"rm -rf*", "*--force*", "git push*"},
	})
	require.NoError(t, err)
	return p
}

// TestClassify tests rule precedence and the ask default
func TestClassify(t *testing.T) {
	p := testPolicy(t)

	tests := []struct {
		command  string
		expected Class
	}{
		{"git status", Allow},
		{"git status --porcelain", Allow},
		{"go test ./...", Allow},
		{"go get example.com/mod", Ask},
		{"rm -rf /tmp/x", Deny},
		{"git push origin main", Deny},
		{"curl https://example.com", Ask}, // unmatched defaults to ask
		{"", Ask},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.Classify(tt.command))
		})
	}
}

// TestClassifyDenyWins tests that deny beats a matching allow rule
func TestClassifyDenyWins(t *testing.T) {
	p := testPolicy(t)

	// Matches both "git diff*" (allow) and "*--force*" (deny).
	assert.Equal(t, Deny, p.Classify("git diff --force"))
}

// TestMax tests restrictiveness ordering deny > ask > allow
func TestMax(t *testing.T) {
	tests := []struct {
		a, b, expected Class
	}{
		{Allow, Allow, Allow},
		{Allow, Ask, Ask},
		{Ask, Allow, Ask},
		{Ask, Deny, Deny},
		{Deny, Allow, Deny},
		{Deny, Deny, Deny},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Max(tt.a, tt.b))
	}
}

// TestValid tests class name validation
func TestValid(t *testing.T) {
	assert.True(t, Valid("allow"))
	assert.True(t, Valid("ask"))
	assert.True(t, Valid("deny"))
	assert.False(t, Valid("maybe"))
	assert.False(t, Valid(""))
}

// TestNewPolicyRejectsBadGlobs tests compile-time rule validation
func TestNewPolicyRejectsBadGlobs(t *testing.T) {
	_, err := NewPolicy(Rules{Deny: []string{"[unclosed"}})
	assert.Error(t, err)
}
