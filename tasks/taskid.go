package tasks

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidTaskID is returned when a task id does not decode into a
// (session id, task key) pair.
var ErrInvalidTaskID = errors.New("invalid task id")

const idDelimiter = '.'

// Combine encodes a session id and a task key into a single opaque task id.
//
// Each component is escaped so that '%' becomes "%25" and '.' becomes "%2E";
// the escaped components are joined with '.'. Split reverses it exactly.
func Combine(sessionID, taskKey string) string {
	var b strings.Builder
	b.Grow(len(sessionID) + len(taskKey) + 1)
	escapeInto(&b, sessionID)
	b.WriteByte(idDelimiter)
	escapeInto(&b, taskKey)
	return b.String()
}

// Split decodes a task id produced by Combine. It rejects ids with anything
// other than exactly one unescaped delimiter or with escapes Combine never
// produces, which keeps the encoding bijective.
func Split(taskID string) (sessionID, taskKey string, err error) {
	i := strings.IndexByte(taskID, idDelimiter)
	if i < 0 || strings.IndexByte(taskID[i+1:], idDelimiter) >= 0 {
		return "", "", errors.Wrapf(ErrInvalidTaskID, "%q: want exactly one delimiter", taskID)
	}
	if sessionID, err = unescape(taskID[:i]); err != nil {
		return "", "", errors.Wrapf(err, "%q", taskID)
	}
	if taskKey, err = unescape(taskID[i+1:]); err != nil {
		return "", "", errors.Wrapf(err, "%q", taskID)
	}
	return sessionID, taskKey, nil
}

func escapeInto(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '%':
			b.WriteString("%25")
		case idDelimiter:
			b.WriteString("%2E")
		default:
			b.WriteByte(c)
		}
	}
}

func unescape(s string) (string, error) {
	if strings.IndexByte(s, '%') < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if len(s)-i < 3 {
			return "", errors.Wrap(ErrInvalidTaskID, "truncated escape")
		}
		switch s[i+1 : i+3] {
		case "25":
			b.WriteByte('%')
		case "2E":
			b.WriteByte(idDelimiter)
		default:
			return "", errors.Wrapf(ErrInvalidTaskID, "unknown escape %q", s[i:i+3])
		}
		i += 2
	}
	return b.String(), nil
}
