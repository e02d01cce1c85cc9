// Package topic validates MQTT topic names and filters and matches one against the other.
package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxLength is the longest UTF-8 encoded string MQTT can carry. 1.5.3 UTF-8 encoded strings
const maxLength = 65535

var (
	ErrEmpty    = errors.New("topic: empty")
	ErrTooLong  = errors.New("topic: longer than 65535 bytes")
	ErrEncoding = errors.New("topic: invalid utf-8 or null character")
	ErrWildcard = errors.New("topic: invalid wildcard")
)

// ValidateTopic checks a topic name used to publish. Topic names MUST NOT contain
// wildcard characters [MQTT-3.3.2-2].
func ValidateTopic(name string) error {
	if err := validateString(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: %q is a topic name", ErrWildcard, name)
	}
	return nil
}

// ValidateFilter checks a topic filter used to subscribe.
//
// '#' must be the last character and occupy a whole level [MQTT-4.7.1-2]; '+' must
// occupy a whole level [MQTT-4.7.1-3].
func ValidateFilter(filter string) error {
	if err := validateString(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' not last in %q", ErrWildcard, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q", ErrWildcard, filter)
		}
	}
	return nil
}

func validateString(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if len(s) > maxLength {
		return ErrTooLong
	}
	if !utf8.ValidString(s) || strings.IndexByte(s, 0) >= 0 {
		return ErrEncoding
	}
	return nil
}

// Match reports whether topic name matches filter. Both are assumed valid.
func Match(filter, topic string) bool {
	// [MQTT-4.7.2-1]
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}
	fl, tl := strings.Split(filter, "/"), strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
