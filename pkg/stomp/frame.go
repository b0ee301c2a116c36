// Package stomp encodes and decodes STOMP 1.2 frames, the wire format spoken
// between the chat client and the message broker over WebSocket.
//
// The byte-level codec is github.com/go-stomp/stomp/v3/frame. This package
// adds the value types shared by client and broker, one-message framing
// with heart-beat skipping, and heart-beat negotiation.
package stomp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

// Frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdStomp       = "STOMP"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// SupportedVersions is the accept-version value sent on CONNECT.
const SupportedVersions = "1.2,1.1,1.0"

// ErrMalformedFrame is returned when bytes cannot be decoded into a frame.
var ErrMalformedFrame = errors.New("stomp: malformed frame")

// Heartbeat is the payload of a heart-beat: a single end-of-line.
var Heartbeat = []byte{'\n'}

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Header  Header
	Body    []byte
}

// New builds a frame from a command and alternating header keys and values.
func New(command string, kv ...string) Frame {
	f := Frame{Command: command}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header.Add(kv[i], kv[i+1])
	}
	return f
}

// Encode serializes the frame, terminated by NUL.
// A content-length header is added when the frame has a body and none is set.
func (f Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(len(f.Command) + len(f.Body) + 64)

	if !escapes(f.Command) {
		writeRaw(&buf, f)
		return buf.Bytes()
	}
	// Writing to a bytes.Buffer cannot fail.
	_ = frame.NewWriter(&buf).Write(f.wire())
	return buf.Bytes()
}

// wire converts f to the codec's representation, adding content-length.
func (f Frame) wire() *frame.Frame {
	out := frame.New(f.Command)
	for _, h := range f.Header {
		out.Header.Add(h.Key, h.Value)
	}
	if _, ok := out.Header.Contains(HdrContentLength); len(f.Body) > 0 && !ok {
		out.Header.Add(HdrContentLength, strconv.Itoa(len(f.Body)))
	}
	out.Body = f.Body
	return out
}

// writeRaw writes CONNECT and CONNECTED frames, whose headers are never
// escaped so that 1.0 peers can read them.
func writeRaw(buf *bytes.Buffer, f Frame) {
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	hasLength := false
	for _, h := range f.Header {
		hasLength = hasLength || h.Key == HdrContentLength
		buf.WriteString(h.Key)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.WriteByte('\n')
	}
	if !hasLength && len(f.Body) > 0 {
		buf.WriteString(HdrContentLength + ":" + strconv.Itoa(len(f.Body)) + "\n")
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
}

// readBufferSize is large enough for the codec reader to reuse our buffered
// reader instead of wrapping it, so peeking it shows what is left unread.
const readBufferSize = 8 << 10

// Parse decodes every frame contained in one transport message.
// End-of-line bytes between frames are heart-beats and are skipped, so a
// heart-beat-only message yields no frames and no error.
func Parse(data []byte) ([]Frame, error) {
	br := bufio.NewReaderSize(bytes.NewReader(data), max(readBufferSize, len(data)))
	r := frame.NewReader(br)

	var frames []Frame
	for {
		if _, err := br.Peek(1); err == io.EOF {
			return frames, nil
		}
		f, err := r.Read()
		if err == io.EOF {
			// Bytes were left but ended inside a frame.
			return frames, fmt.Errorf("%w: truncated frame", ErrMalformedFrame)
		}
		if err != nil {
			return frames, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		if f == nil {
			continue // heart-beat
		}
		frames = append(frames, fromWire(f))
	}
}

// IsHeartbeat reports whether data carries only heart-beat end-of-lines.
func IsHeartbeat(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	frames, err := Parse(data)
	return err == nil && len(frames) == 0
}

func fromWire(in *frame.Frame) Frame {
	f := Frame{Command: in.Command}
	for i := 0; i < in.Header.Len(); i++ {
		k, v := in.Header.GetAt(i)
		f.Header.Add(k, v)
	}
	if len(in.Body) > 0 {
		f.Body = in.Body
	}
	return f
}

// escapes reports whether header escaping applies to command.
// CONNECT and CONNECTED frames are exempt for 1.0 compatibility.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}
