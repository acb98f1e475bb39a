package scl

import (
	"bytes"
	"fmt"
	"io"
)

// Every SCL message over TCP carries a fixed two byte header and a carriage
// return terminator around the ASCII payload.
var frameHeader = []byte{0x00, 0x07}

const (
	terminator = byte('\r')

	// readChunkSize is the size of each socket read while accumulating a reply.
	readChunkSize = 16
)

// Frame wraps an ASCII command payload with the SCL header and terminator.
func Frame(cmd string) []byte {
	buf := make([]byte, 0, len(frameHeader)+len(cmd)+1)
	buf = append(buf, frameHeader...)
	buf = append(buf, cmd...)
	buf = append(buf, terminator)

	return buf
}

// WriteFrame writes a framed command to w in a single write call, so that
// concurrent writers can never interleave partial messages.
func WriteFrame(w io.Writer, cmd string) error {
	frame := Frame(cmd)
	n, err := w.Write(frame)
	if err != nil {
		return fmt.Errorf("scl: write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("scl: short write: %d of %d bytes", n, len(frame))
	}

	return nil
}

// ReadFrame accumulates fixed-size reads from r until a terminator is seen,
// then returns the ASCII payload with header and terminator stripped.
//
// An empty read before the terminator is observed means the peer closed the
// connection; it is reported as ErrConnectionLost, not as malformed data.
func ReadFrame(r io.Reader) (string, error) {
	var msg []byte
	chunk := make([]byte, readChunkSize)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			msg = append(msg, chunk[:n]...)

			if idx := bytes.IndexByte(msg, terminator); idx >= 0 {
				payload := msg[:idx]
				if hdr := bytes.Index(payload, frameHeader); hdr >= 0 {
					payload = payload[hdr+len(frameHeader):]
				}
				return string(payload), nil
			}
		}

		if err != nil {
			if err == io.EOF {
				return "", ErrConnectionLost
			}
			return "", fmt.Errorf("scl: read frame: %w", err)
		}
	}
}
