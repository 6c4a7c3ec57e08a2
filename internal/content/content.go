package content

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const (
	MaxHandleLength      = 32
	MaxDisplayNameLength = 64
)

var (
	policy      = bluemonday.UGCPolicy()
	markdown    = goldmark.New()
	handleRegex = regexp.MustCompile(`^[a-z0-9._-]+$`)
)

var (
	ErrInvalidText = errors.New("text is not valid UTF-8")
	ErrTextTooLong = errors.New("text is too long")
)

// Text trims surrounding whitespace from plain text and checks that it is
// valid UTF-8 of at most max characters. The text itself is kept as is and
// clients escape it when rendering.
func Text(input string, max int) (string, error) {
	text := strings.TrimSpace(input)
	if !utf8.ValidString(text) {
		return "", ErrInvalidText
	}
	if utf8.RuneCountInString(text) > max {
		return "", fmt.Errorf("%w: at most %d characters", ErrTextTooLong, max)
	}
	return text, nil
}

// RenderMarkdown converts markdown source to sanitized HTML.
func RenderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateHandle checks that the handle is lower-case and contains only
// alphanumerics, dot, dash or underscore.
func ValidateHandle(handle string) error {
	if handle == "" {
		return errors.New("handle cannot be empty")
	}
	if utf8.RuneCountInString(handle) > MaxHandleLength {
		return fmt.Errorf("handle cannot be longer than %d characters", MaxHandleLength)
	}
	if !handleRegex.MatchString(handle) {
		return errors.New("handle contains invalid characters (allowed: lower-case alphanumeric, dot, dash, underscore)")
	}
	return nil
}
