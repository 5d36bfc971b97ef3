// Package channame validates and parses storage names shared by the index
// file, the disk overflow engine, and the channel/registry startup scan
// (§3, "Channel naming").
package channame

import (
	"fmt"
	"strings"
)

// Valid reports whether r is a legal storage-name character:
// [A-Za-z0-9_\-@].
func Valid(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '@':
		return true
	default:
		return false
	}
}

// ValidString reports whether every rune in s is a legal storage-name
// character and s is non-empty.
func ValidString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !Valid(r) {
			return false
		}
	}
	return true
}

// Parsed is a storage name split into its subscriber and channel parts.
type Parsed struct {
	// Subscriber is the part before '@'. Empty string is a valid
	// subscriber name (written "@channel"). Meaningless if !Subscribed.
	Subscriber string

	// Channel is the channel id: the whole name if !Subscribed, otherwise
	// the part after '@'.
	Channel string

	// Subscribed is true iff the name contains exactly one '@'.
	Subscribed bool
}

// Parse splits name into subscriber/channel parts.
//
// A storage name is either "channel" (no subscriber) or
// "subscriber@channel" (subscriber may be the empty string, written
// "@channel"). Exactly one '@' is permitted, and it may not be the sole
// character of the name ("@" alone is invalid). The part after '@' is the
// channel id; the part before is the subscriber name.
func Parse(name string) (Parsed, error) {
	if !ValidString(name) {
		return Parsed{}, fmt.Errorf("channame: %q contains characters outside [A-Za-z0-9_-@]", name)
	}

	count := strings.Count(name, "@")

	switch count {
	case 0:
		return Parsed{Channel: name, Subscribed: false}, nil
	case 1:
		if name == "@" {
			return Parsed{}, fmt.Errorf("channame: %q: bare '@' is not a valid storage name", name)
		}

		idx := strings.IndexByte(name, '@')
		channel := name[idx+1:]

		if channel == "" {
			return Parsed{}, fmt.Errorf("channame: %q: channel part is empty", name)
		}

		return Parsed{Subscriber: name[:idx], Channel: channel, Subscribed: true}, nil
	default:
		return Parsed{}, fmt.Errorf("channame: %q contains more than one '@'", name)
	}
}

// Join composes a storage name from a subscriber and a channel, mirroring
// Parse in reverse. If subscriber is empty and the caller does not want a
// subscribed name, use channel directly instead of Join.
func Join(subscriber, channel string) string {
	return subscriber + "@" + channel
}

// DisplayID returns the human-facing channel display id: the storage id
// with a leading '@' stripped, so the default subscriber ("" @ channel)
// reads as the bare channel name (§4.8).
func DisplayID(storageID string) string {
	return strings.TrimPrefix(storageID, "@")
}
