package session

import "fmt"

// Session names become directory names under the base dir, so they are kept
// to a conservative lowercase slug.
const maxNameLen = 64

// ValidateName rejects anything but 1-64 characters of a-z, 0-9, '-', '_'.
func ValidateName(name string) error {
	ok := name != "" && len(name) <= maxNameLen
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			ok = false
		}
	}
	if !ok {
		return fmt.Errorf("invalid session name %q: use 1-64 characters of a-z, 0-9, '-' or '_'", name)
	}
	return nil
}
