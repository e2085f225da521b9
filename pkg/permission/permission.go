// Package permission classifies shell commands as allow, ask, or deny under a
// glob policy. Classification is pure and deterministic; deny wins over ask,
// ask wins over allow, and unmatched commands default to ask.
package permission

import (
	"github.com/gobwas/glob"
)

// Class is the permission class attached to a command
type Class string

const (
	Allow Class = "allow"
	Ask   Class = "ask"
	Deny  Class = "deny"
)

var rank = map[Class]int{
	Allow: 0,
	Ask:   1,
	Deny:  2,
}

// Max returns the most restrictive of two classes under deny > ask > allow.
// The runner applies Max(server class, local class) so the effective policy
// is never weaker than either side.
func Max(a, b Class) Class {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Valid reports whether s names a known class
func Valid(s string) bool {
	_, ok := rank[Class(s)]
	return ok
}

// Policy holds compiled glob lists for each class
type Policy struct {
	allow []glob.Glob
	ask   []glob.Glob
	deny  []glob.Glob
}

// Rules is the raw policy as loaded from permissions.defaults.yaml
type Rules struct {
	Allow []string `yaml:"allow" json:"allow"`
	Ask   []string `yaml:"ask" json:"ask"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// NewPolicy compiles rule globs. A `*` matches any characters within the
// command line, so patterns are compiled without separators.
func NewPolicy(rules Rules) (*Policy, error) {
	p := &Policy{}
	for _, set := range []struct {
		patterns []string
		dst      *[]glob.Glob
	}{
		{rules.Allow, &p.allow},
		{rules.Ask, &p.ask},
		{rules.Deny, &p.deny},
	} {
		for _, pattern := range set.patterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				return nil, err
			}
			*set.dst = append(*set.dst, g)
		}
	}
	return p, nil
}

// Classify maps a command string to its permission class. Deny rules win,
// then ask, then allow; a command matching nothing defaults to ask.
func (p *Policy) Classify(command string) Class {
	if matchAny(p.deny, command) {
		return Deny
	}
	if matchAny(p.ask, command) {
		return Ask
	}
	if matchAny(p.allow, command) {
		return Allow
	}
	return Ask
}

func matchAny(globs []glob.Glob, command string) bool {
	for _, g := range globs {
		if g.Match(command) {
			return true
		}
	}
	return false
}
