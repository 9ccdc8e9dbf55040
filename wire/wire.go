// Package wire owns the framing of the chat protocol: newline-terminated
// text lines over a byte stream. Both server and client read and write the
// stream exclusively through this package, so framing policy lives in one
// place instead of ad hoc substring scanning on the receive buffer.
package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// MaxLineLen caps a single frame, matching the original protocol's fixed
// receive buffer.
const MaxLineLen = 1024

var ErrLineTooLong = errors.New("wire: line exceeds maximum length")

type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, MaxLineLen)}
}

// ReadLine returns the next frame with its line terminator stripped. A final
// unterminated frame before EOF is delivered as a normal line; the EOF is
// reported on the following call.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	if len(line) > MaxLineLen {
		return "", ErrLineTooLong
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteLine writes one frame. Terminator and payload go out in a single
// Write call so a frame is never split across two socket writes.
func (w *Writer) WriteLine(line string) error {
	_, err := w.w.Write([]byte(line + "\n"))
	return err
}
