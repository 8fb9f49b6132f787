// Package sanitize cleans text that is copied from source files, commit
// messages or GitHub into generated reports.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const redacted = "[REDACTED]"

var (
	reInvisible  = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]")
	reControl    = regexp.MustCompile("[\u0000-\u0008\u000B\u000C\u000E-\u001F\u007F-\u009F]")
	reSoftHyphen = regexp.MustCompile("\u00AD")
	reBidi       = regexp.MustCompile("[\u202A-\u202E\u2066-\u2069]")
	reSpaces     = regexp.MustCompile(`\s+`)

	reGitHubToken = regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr|ghu)_[A-Za-z0-9]{36}\b`)
	reGitHubPAT   = regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{11,221}\b`)
	reOpenAIKey   = regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}`)
	reGoogleKey   = regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)
	reAWSKey      = regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)
	rePrivateKey  = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)
	reAssignment  = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:api[_-]?key|secret|token|password|passwd))\b(\s*[:=]\s*)(["']?)([^\s"']{8,})(["']?)`)
)

// StripInvisibleCharacters removes zero-width, control and bidi characters.
func StripInvisibleCharacters(s string) string {
	s = reInvisible.ReplaceAllString(s, "")
	s = reControl.ReplaceAllString(s, "")
	s = reSoftHyphen.ReplaceAllString(s, "")
	s = reBidi.ReplaceAllString(s, "")
	return s
}

// RedactSecrets censors credential-like strings: vendor token formats,
// PEM private keys and NAME=value assignments for secret-looking names.
func RedactSecrets(s string) string {
	s = rePrivateKey.ReplaceAllString(s, redacted)
	s = reGitHubToken.ReplaceAllString(s, redacted)
	s = reGitHubPAT.ReplaceAllString(s, redacted)
	s = reOpenAIKey.ReplaceAllString(s, redacted)
	s = reGoogleKey.ReplaceAllString(s, redacted)
	s = reAWSKey.ReplaceAllString(s, redacted)
	s = reAssignment.ReplaceAllString(s, "${1}${2}${3}"+redacted+"${5}")
	return s
}

// Line cleans a single line for a markdown list or table cell and caps it
// at max runes (0 disables the cap).
func Line(s string, max int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = StripInvisibleCharacters(s)
	s = RedactSecrets(s)
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	if max > 0 && utf8.RuneCountInString(s) > max {
		r := []rune(s)
		s = string(r[:max-1]) + "…"
	}
	return s
}
