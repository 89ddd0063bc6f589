package bridge

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 ends a line stream whose bytes are not text.
var ErrInvalidUTF8 = errors.New("invalid utf-8 in stream")

// LineSource splits a reader into lines without their terminators.
type LineSource struct {
	r      *bufio.Reader
	closer io.Closer
}

// NewLineSource reads lines from r; closer is closed when the session ends and
// may be nil.
func NewLineSource(r io.Reader, closer io.Closer) *LineSource {
	return &LineSource{r: bufio.NewReader(r), closer: closer}
}

// Next returns the next line. A line that is not valid UTF-8 is an error.
func (l *LineSource) Next() (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	if !utf8.ValidString(line) {
		return "", ErrInvalidUTF8
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (l *LineSource) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
