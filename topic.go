package mqttclient

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator = "/"
	singleLevel    = "+"
	multiLevel     = "#"
)

// ValidateTopicName checks a topic name used in PUBLISH and in the will
// message. Names carry no wildcards.
func ValidateTopicName(topic string) error {
	if err := checkTopicString(topic, ErrInvalidTopicName); err != nil {
		return err
	}
	if i := strings.IndexAny(topic, singleLevel+multiLevel); i >= 0 {
		return fmt.Errorf("%w: wildcard %q at offset %d", ErrInvalidTopicName, topic[i], i)
	}
	return nil
}

// ValidateTopicFilter checks a topic filter used in SUBSCRIBE and UNSUBSCRIBE.
// A wildcard must fill its level, and # only fills the last one.
func ValidateTopicFilter(filter string) error {
	if err := checkTopicString(filter, ErrInvalidTopicFilter); err != nil {
		return err
	}

	rest := filter
	for {
		level, next, more := strings.Cut(rest, topicSeparator)

		switch {
		case level == multiLevel && more:
			return fmt.Errorf("%w: %s must be the last level", ErrInvalidTopicFilter, multiLevel)
		case level != singleLevel && level != multiLevel && strings.ContainsAny(level, singleLevel+multiLevel):
			return fmt.Errorf("%w: wildcard inside level %q", ErrInvalidTopicFilter, level)
		}

		if !more {
			return nil
		}
		rest = next
	}
}

// checkTopicString applies the rules shared by names and filters: non-empty,
// UTF-8 encodable in a length-prefixed string, no U+0000.
func checkTopicString(s string, kind error) error {
	switch {
	case s == "":
		return ErrEmptyTopic
	case len(s) > maxUint16:
		return fmt.Errorf("%w: %d bytes exceeds %d", kind, len(s), maxUint16)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: not valid UTF-8", kind)
	case strings.IndexByte(s, 0) >= 0:
		return fmt.Errorf("%w: contains U+0000", kind)
	}
	return nil
}

// TopicMatch reports whether topic matches filter. A leading wildcard does
// not match topics starting with $. The match does not allocate.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if topic[0] == '$' && (filter[0] == singleLevel[0] || filter[0] == multiLevel[0]) {
		return false
	}

	for {
		fl, frest, fmore := strings.Cut(filter, topicSeparator)
		if fl == multiLevel {
			return true
		}

		tl, trest, tmore := strings.Cut(topic, topicSeparator)
		if fl != singleLevel && fl != tl {
			return false
		}

		switch {
		case !fmore:
			return !tmore
		case !tmore:
			// "a/#" also matches its parent "a".
			return frest == multiLevel
		}
		filter, topic = frest, trest
	}
}
