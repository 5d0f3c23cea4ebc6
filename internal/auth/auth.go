// Package auth defines the credential collaborator boundary: the core
// asks one question ("give me a user/password for this host") and never
// knows whether the answer came from flags, an environment variable, an
// interactive prompt, or an OS keychain. Keyring storage and interactive
// prompting are out of scope here; this package keeps only the
// credential-lookup signature and a minimal non-interactive default.
package auth

import "os"

// Source answers credential requests for a given server host. Returning
// cancelled = true tells the caller the user backed out of providing
// credentials; it is distinct from returning empty strings, which are
// legal values.
type Source interface {
	Credentials(host string) (user, password string, cancelled bool)
}

// Static is the simplest possible Source: it always returns the same
// user/password, supplied up front (from --user/--password flags, most
// commonly). It never cancels.
type Static struct {
	User     string
	Password string
}

func (s Static) Credentials(string) (string, string, bool) {
	return s.User, s.Password, false
}

// EnvFallback returns User/Password when set, and otherwise falls back
// to the EPRINTS2ARCHIVES_USER / EPRINTS2ARCHIVES_PASSWORD environment
// variables. This is the default credential Source the CLI boundary
// wires up, with no keyring or interactive-prompt lookup involved.
type EnvFallback struct {
	User     string
	Password string
}

func (e EnvFallback) Credentials(string) (string, string, bool) {
	user, password := e.User, e.Password
	if user == "" {
		user = os.Getenv("EPRINTS2ARCHIVES_USER")
	}
	if password == "" {
		password = os.Getenv("EPRINTS2ARCHIVES_PASSWORD")
	}
	return user, password, false
}
