package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentrelay/agentrelay/logging"
)

const headerContentLength = "content-length"

// CodecOptions configures a Codec.
type CodecOptions struct {
	// Logger receives diagnostics for skipped frames. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Codec turns a fragmented byte stream into discrete messages and back.
//
// Push may be fed arbitrarily split input; an internal accumulation buffer
// persists across calls and decoded messages are returned in byte order.
// Decoding tries the Content-Length header framing first and falls back to
// one-JSON-document-per-line when no header terminator is present. A body or
// line that fails to parse is logged and skipped; framing never fails the
// stream because one message was malformed.
//
// A header block whose Content-Length is missing, non-numeric or negative is
// treated as a hard frame error: the block is dropped and decoding resyncs at
// the byte after the terminator. Waiting for more input there cannot help and
// would wedge the connection on a single corrupt header.
//
// Codec is not safe for concurrent use; each stream direction owns its own.
type Codec struct {
	buf    []byte
	logger logging.Logger
}

// NewCodec constructs a Codec with optional overrides.
func NewCodec(optFns ...func(o *CodecOptions)) *Codec {
	opts := CodecOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Codec{logger: opts.Logger}
}

// Push appends data to the accumulation buffer and returns every message that
// can be fully decoded from it, in arrival order.
func (c *Codec) Push(data []byte) []Message {
	c.buf = append(c.buf, data...)

	var msgs []Message
	for {
		msg, ok := c.next()
		if !ok {
			break
		}
		if msg != nil {
			msgs = append(msgs, *msg)
		}
	}
	return msgs
}

// Buffered returns the number of bytes awaiting a complete frame. Exposed for
// tests and diagnostics.
func (c *Codec) Buffered() int { return len(c.buf) }

// next consumes at most one frame from the buffer. It returns (nil, true)
// when a frame was consumed but yielded no message (blank line, malformed
// document, dropped header) and (nil, false) when more bytes are needed.
func (c *Codec) next() (*Message, bool) {
	if len(c.buf) == 0 {
		return nil, false
	}

	if headerEnd, sepLen, found := findHeaderTerminator(c.buf); found {
		length, err := parseContentLength(c.buf[:headerEnd])
		if err != nil {
			c.logger.Warn("codec.frame.dropped", "reason", err.Error())
			c.buf = c.buf[headerEnd+sepLen:]
			return nil, true
		}
		bodyStart := headerEnd + sepLen
		if len(c.buf) < bodyStart+length {
			return nil, false
		}
		body := c.buf[bodyStart : bodyStart+length]
		msg := c.parse(body)
		c.buf = c.buf[bodyStart+length:]
		return msg, true
	}

	if nl := bytes.IndexByte(c.buf, '\n'); nl >= 0 {
		line := bytes.TrimSpace(c.buf[:nl])
		c.buf = c.buf[nl+1:]
		if len(line) == 0 {
			return nil, true
		}
		return c.parse(line), true
	}

	return nil, false
}

// parse decodes one body or line into a message, returning nil on malformed
// input (logged, not raised).
func (c *Codec) parse(data []byte) *Message {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("codec.message.skipped", "error", err.Error(), "bytes", len(data))
		return nil
	}
	return &msg
}

// findHeaderTerminator locates the earliest double line-terminator marking the
// end of a header block. Both \r\n\r\n and \n\n are accepted.
func findHeaderTerminator(buf []byte) (end, sepLen int, found bool) {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return 0, 0, false
	case lf < 0 || (crlf >= 0 && crlf <= lf):
		return crlf, 4, true
	default:
		return lf, 2, true
	}
}

// parseContentLength extracts the Content-Length value from a header block.
// The key match is case-insensitive and the value is trimmed before parsing.
func parseContentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(key), headerContentLength) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("malformed Content-Length %q", strings.TrimSpace(value))
		}
		if n < 0 {
			return 0, fmt.Errorf("negative Content-Length %d", n)
		}
		return n, nil
	}
	return 0, fmt.Errorf("header block without Content-Length")
}

// Encode produces the canonical header-delimited byte form of a message.
// A full encode-decode round trip is lossless; decode-encode is not required
// to preserve the original framing of a newline-delimited message.
func Encode(msg Message) ([]byte, error) {
	if msg.JSONRPC == "" {
		msg.JSONRPC = Version
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "Content-Length: %d\r\n\r\n", len(body))
	out.Write(body)
	return out.Bytes(), nil
}
