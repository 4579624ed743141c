// Package framing reads and writes header-framed JSON-RPC messages on a byte stream.
package framing

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"go.lsp.dev/jsonrpc2"
)

const (
	// DefaultMaxMessageBytes is the body size above which a frame is rejected.
	DefaultMaxMessageBytes = 64 << 20

	// ContentType is the header value written with every frame.
	ContentType = "application/vscode-jsonrpc; charset=utf-8"

	_headerContentLength = "content-length"
	_headerContentType   = "content-type"
	_readBufferSize      = 4096
)

// Reader decodes framed messages from an underlying stream.
type Reader struct {
	in  *bufio.Reader
	max int64
}

// NewReader returns a Reader over r. A max of zero or less selects DefaultMaxMessageBytes.
func NewReader(r io.Reader, max int64) *Reader {
	if max <= 0 {
		max = DefaultMaxMessageBytes
	}
	return &Reader{
		in:  bufio.NewReaderSize(r, _readBufferSize),
		max: max,
	}
}

// Read returns the next complete message.
// It returns io.EOF only when the stream ends cleanly between frames.
func (r *Reader) Read() (jsonrpc2.Message, error) {
	body, err := r.ReadRaw()
	if err != nil {
		return nil, err
	}

	msg, err := jsonrpc2.DecodeMessage(body)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding message body")
	}
	return msg, nil
}

// ReadRaw returns the body of the next frame without decoding it.
func (r *Reader) ReadRaw() ([]byte, error) {
	length := int64(-1)
	sawHeader := false

	for {
		line, err := r.in.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, bridgeerrors.New(bridgeerrors.KindProtocol, "header line exceeds %d bytes", _readBufferSize)
			}
			if errors.Is(err, io.EOF) {
				if !sawHeader && len(line) == 0 {
					return nil, io.EOF
				}
				return nil, bridgeerrors.Wrap(bridgeerrors.KindFraming, io.ErrUnexpectedEOF, "stream ended inside header")
			}
			return nil, bridgeerrors.Wrap(bridgeerrors.KindFraming, err, "reading header")
		}
		sawHeader = true

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			break
		}

		name, value, ok := strings.Cut(string(line), ":")
		if !ok {
			return nil, bridgeerrors.New(bridgeerrors.KindFraming, "malformed header line %q", line)
		}

		switch strings.ToLower(strings.TrimSpace(name)) {
		case _headerContentLength:
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || n < 0 {
				return nil, bridgeerrors.New(bridgeerrors.KindFraming, "invalid Content-Length %q", strings.TrimSpace(value))
			}
			length = n
		case _headerContentType:
			// Any charset is accepted; bodies are always decoded as UTF-8.
		}
	}

	if length < 0 {
		return nil, bridgeerrors.New(bridgeerrors.KindFraming, "missing Content-Length header")
	}
	if length > r.max {
		return nil, bridgeerrors.New(bridgeerrors.KindProtocol, "message of %d bytes exceeds limit of %d", length, r.max)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.in, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindFraming, io.ErrUnexpectedEOF, "stream ended inside body")
		}
		return nil, bridgeerrors.Wrap(bridgeerrors.KindFraming, err, "reading body")
	}
	return body, nil
}

// Writer encodes messages onto an underlying stream. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Write frames and writes msg as a single unit.
func (w *Writer) Write(msg jsonrpc2.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return w.WriteRaw(body)
}

// WriteRaw frames and writes an already encoded body.
func (w *Writer) WriteRaw(body []byte) error {
	frame := Encode(body)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(frame); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.KindFraming, err, "writing frame")
	}
	return nil
}

// Encode returns the header and body of a frame as one buffer.
func Encode(body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\nContent-Type: %s\r\n\r\n", len(body), ContentType)
	buf.Write(body)
	return buf.Bytes()
}
