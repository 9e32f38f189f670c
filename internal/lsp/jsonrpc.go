package lsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// maxMessageSize bounds a single payload.
const maxMessageSize = 64 << 20

var errMissingLength = errors.New("missing Content-Length header")

// readMessage reads one base-protocol frame. Headers other than
// Content-Length are ignored.
func readMessage(r *bufio.Reader) ([]byte, error) {
	header, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil {
		return nil, err
	}
	value := header.Get("Content-Length")
	if value == "" {
		return nil, errMissingLength
	}
	length, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("invalid Content-Length %q", value)
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeMessage(w io.Writer, payload []byte) error {
	header := make([]byte, 0, 32)
	header = append(header, "Content-Length: "...)
	header = strconv.AppendInt(header, int64(len(payload)), 10)
	header = append(header, "\r\n\r\n"...)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
