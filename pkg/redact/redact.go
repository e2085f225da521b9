// Package redact masks secret-shaped substrings in any text leaving the
// runner or entering prompts. Redaction is a pure string transform and is
// idempotent: redacting already-redacted text changes nothing.
package redact

import (
	"regexp"
)

// Mask is the replacement written over secret material
const Mask = "[REDACTED]"

var (
	// KEY=VALUE where the key name looks like a credential. The key name is
	// preserved; only the value is masked.
	keyValueRe = regexp.MustCompile(`(?i)([A-Z0-9_\-]*(?:API_KEY|APIKEY|TOKEN|SECRET|PASSWORD|ACCESS_KEY)[A-Z0-9_\-]*)(\s*[=:]\s*)("?)([^\s"',;]+)`)

	// AWS access key ids
	awsKeyRe = regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)

	// PEM private key blocks
	pemRe = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)

	// JWT-looking dotted triples
	jwtRe = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\b`)
)

// Result reports what Apply masked
type Result struct {
	Text          string
	MaskedEntries int
	MaskedChars   int
}

// Apply masks secret-shaped substrings in text. MaskedEntries counts secrets,
// not characters; MaskedChars counts the original characters replaced.
func Apply(text string) Result {
	res := Result{Text: text}

	res.Text = replace(res.Text, pemRe, func(m string) string {
		res.MaskedEntries++
		res.MaskedChars += len(m)
		return Mask
	})

	res.Text = keyValueRe.ReplaceAllStringFunc(res.Text, func(m string) string {
		parts := keyValueRe.FindStringSubmatch(m)
		if parts[4] == Mask {
			return m
		}
		res.MaskedEntries++
		res.MaskedChars += len(parts[4])
		return parts[1] + parts[2] + parts[3] + Mask
	})

	res.Text = replace(res.Text, awsKeyRe, func(m string) string {
		res.MaskedEntries++
		res.MaskedChars += len(m)
		return Mask
	})

	res.Text = replace(res.Text, jwtRe, func(m string) string {
		res.MaskedEntries++
		res.MaskedChars += len(m)
		return Mask
	})

	return res
}

// String is a convenience wrapper returning only the masked text
func String(text string) string {
	return Apply(text).Text
}

func replace(text string, re *regexp.Regexp, fn func(string) string) string {
	return re.ReplaceAllStringFunc(text, fn)
}
