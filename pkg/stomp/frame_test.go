package stomp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/omochice/direct-chat/pkg/stomp"
)

func TestFrame_Encode(t *testing.T) {
	tests := []struct {
		name  string
		frame stomp.Frame
		want  string
	}{
		{
			name:  "frame without body",
			frame: stomp.New(stomp.CmdSubscribe, stomp.HdrID, "sub-0", stomp.HdrDestination, "/topic/direct/7"),
			want:  "SUBSCRIBE\nid:sub-0\ndestination:/topic/direct/7\n\n\x00",
		},
		{
			name: "body adds content-length",
			frame: stomp.Frame{
				Command: stomp.CmdSend,
				Header:  stomp.Header{{Key: stomp.HdrDestination, Value: "/app/direct/7/send"}},
				Body:    []byte(`{"message":"hi"}`),
			},
			want: "SEND\ndestination:/app/direct/7/send\ncontent-length:16\n\n{\"message\":\"hi\"}\x00",
		},
		{
			name: "explicit content-length is kept",
			frame: stomp.Frame{
				Command: stomp.CmdSend,
				Header:  stomp.Header{{Key: stomp.HdrContentLength, Value: "2"}},
				Body:    []byte("{}"),
			},
			want: "SEND\ncontent-length:2\n\n{}\x00",
		},
		{
			name:  "header values are escaped",
			frame: stomp.New(stomp.CmdMessage, "note", "a:b\nc\\d"),
			want:  "MESSAGE\nnote:a\\cb\\nc\\\\d\n\n\x00",
		},
		{
			name:  "connect headers are not escaped",
			frame: stomp.New(stomp.CmdConnect, stomp.HdrHost, "chat:8080"),
			want:  "CONNECT\nhost:chat:8080\n\n\x00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.frame.Encode()); got != tt.want {
				t.Errorf("Frame.Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		commands []string
		bodies   []string
	}{
		{
			name:     "single frame",
			data:     "MESSAGE\ndestination:/topic/direct/1\n\nhello\x00",
			commands: []string{"MESSAGE"},
			bodies:   []string{"hello"},
		},
		{
			name:     "heart-beats around frames",
			data:     "\n\r\nRECEIPT\nreceipt-id:1\n\n\x00\nMESSAGE\n\nbody\x00\n",
			commands: []string{"RECEIPT", "MESSAGE"},
			bodies:   []string{"", "body"},
		},
		{
			name:     "content-length allows NUL in body",
			data:     "MESSAGE\ncontent-length:3\n\na\x00b\x00",
			commands: []string{"MESSAGE"},
			bodies:   []string{"a\x00b"},
		},
		{
			name:     "CRLF line endings",
			data:     "CONNECTED\r\nversion:1.2\r\n\r\n\x00",
			commands: []string{"CONNECTED"},
			bodies:   []string{""},
		},
		{
			name: "heart-beat only",
			data: "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := stomp.Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(frames) != len(tt.commands) {
				t.Fatalf("Parse() returned %d frames, want %d", len(frames), len(tt.commands))
			}
			for i, f := range frames {
				if f.Command != tt.commands[i] {
					t.Errorf("frame %d Command = %q, want %q", i, f.Command, tt.commands[i])
				}
				if string(f.Body) != tt.bodies[i] {
					t.Errorf("frame %d Body = %q, want %q", i, f.Body, tt.bodies[i])
				}
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing NUL", "MESSAGE\n\nbody"},
		{"unterminated headers", "MESSAGE\ndestination:/x"},
		{"header without colon", "MESSAGE\nbroken\n\n\x00"},
		{"negative content-length", "MESSAGE\ncontent-length:-1\n\n\x00"},
		{"short body", "MESSAGE\ncontent-length:10\n\nabc\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stomp.Parse([]byte(tt.data))
			if !errors.Is(err, stomp.ErrMalformedFrame) {
				t.Errorf("Parse() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestParse_UnescapesHeaders(t *testing.T) {
	frames, err := stomp.Parse([]byte("MESSAGE\nnote:a\\cb\\nc\\\\d\n\n\x00"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("Parse() returned %d frames, want 1", len(frames))
	}
	if got, want := frames[0].Header.Get("note"), "a:b\nc\\d"; got != want {
		t.Errorf("Header.Get(note) = %q, want %q", got, want)
	}
}

func TestParse_KeepsFramesBeforeError(t *testing.T) {
	frames, err := stomp.Parse([]byte("RECEIPT\n\n\x00MESSAGE\n"))
	if err == nil {
		t.Fatal("expected error for truncated second frame")
	}
	if len(frames) != 1 || frames[0].Command != stomp.CmdReceipt {
		t.Errorf("Parse() frames = %+v, want the RECEIPT frame", frames)
	}
}

func TestFrame_EncodeParseRoundTrip(t *testing.T) {
	original := stomp.Frame{
		Command: stomp.CmdMessage,
		Header: stomp.Header{
			{Key: stomp.HdrDestination, Value: "/topic/direct/42/typing"},
			{Key: stomp.HdrSubscription, Value: "sub-1"},
			{Key: "x-note", Value: "line1\nline2: with colon"},
		},
		Body: []byte(`{"username":"alice","isTyping":true}`),
	}

	frames, err := stomp.Parse(original.Encode())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	got := frames[0]

	if got.Command != original.Command {
		t.Errorf("Command mismatch: got %v, want %v", got.Command, original.Command)
	}
	for _, h := range original.Header {
		if v := got.Header.Get(h.Key); v != h.Value {
			t.Errorf("header %s = %q, want %q", h.Key, v, h.Value)
		}
	}
	if !bytes.Equal(got.Body, original.Body) {
		t.Errorf("Body mismatch: got %q, want %q", got.Body, original.Body)
	}
}

func TestIsHeartbeat(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{"\n", true},
		{"\r\n\n", true},
		{"", false},
		{"MESSAGE\n\n\x00", false},
	}

	for _, tt := range tests {
		if got := stomp.IsHeartbeat([]byte(tt.data)); got != tt.want {
			t.Errorf("IsHeartbeat(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}
