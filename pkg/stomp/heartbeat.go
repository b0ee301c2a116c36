package stomp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// HeartBeat is the value of a heart-beat header.
// Send is the smallest interval at which the sender emits heart-beats and
// Receive the interval at which it wants to receive them. Zero disables.
type HeartBeat struct {
	Send    time.Duration
	Receive time.Duration
}

// ParseHeartBeat parses "cx,cy" (milliseconds). An empty value means no heart-beats.
func ParseHeartBeat(v string) (HeartBeat, error) {
	if v == "" {
		return HeartBeat{}, nil
	}
	send, recv, err := frame.ParseHeartBeat(strings.ReplaceAll(v, " ", ""))
	if err != nil {
		return HeartBeat{}, fmt.Errorf("%w: heart-beat %q: %w", ErrMalformedFrame, v, err)
	}
	return HeartBeat{Send: send, Receive: recv}, nil
}

// String formats the header value.
func (hb HeartBeat) String() string {
	return strconv.FormatInt(hb.Send.Milliseconds(), 10) + "," + strconv.FormatInt(hb.Receive.Milliseconds(), 10)
}

// NegotiateHeartBeat returns the intervals the local side must send at and
// expects to receive at, given its own header and the peer's.
func NegotiateHeartBeat(local, remote HeartBeat) (send, receive time.Duration) {
	if local.Send > 0 && remote.Receive > 0 {
		send = max(local.Send, remote.Receive)
	}
	if local.Receive > 0 && remote.Send > 0 {
		receive = max(local.Receive, remote.Send)
	}
	return send, receive
}
