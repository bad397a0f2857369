package session

import (
	"fmt"
	"regexp"
)

// maxSocketPath is the smallest sun_path size among supported platforms
// (104 on darwin, 108 on linux), minus the terminating NUL.
const maxSocketPath = 103

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that a session name is safe to use as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// ValidateSocketPath reports whether the control socket of a session fits in
// a Unix socket address. Deep CHATSYNC_HOME values can push it over the limit.
func ValidateSocketPath(name string) error {
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("socket path %q is %d bytes, longer than the %d allowed; use a shorter %s or session name",
			p, len(p), maxSocketPath, EnvHome)
	}
	return nil
}
