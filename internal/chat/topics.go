package chat

import "fmt"

// Suffixes appended to a room's topic.
const (
	SuffixMessages = ""
	SuffixTyping   = "/typing"
	SuffixRead     = "/read"
)

// RoomSuffixes are the topics every session subscribes to.
var RoomSuffixes = []string{SuffixMessages, SuffixTyping, SuffixRead}

// Topic returns the inbound destination for room and suffix.
func Topic(room RoomID, suffix string) string {
	return "/topic/direct/" + string(room) + suffix
}

// Kind is an outbound event kind.
type Kind int

const (
	KindMessage Kind = iota
	KindTypingStart
	KindTypingStop
	KindReadReceipt
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindTypingStart:
		return "typing_start"
	case KindTypingStop:
		return "typing_stop"
	case KindReadReceipt:
		return "read_receipt"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) suffix() (string, bool) {
	switch k {
	case KindMessage:
		return "/send", true
	case KindTypingStart:
		return "/typing/start", true
	case KindTypingStop:
		return "/typing/stop", true
	case KindReadReceipt:
		return "/read", true
	default:
		return "", false
	}
}

// Destination returns the outbound destination of kind for room.
func Destination(room RoomID, kind Kind) (string, error) {
	suffix, ok := kind.suffix()
	if !ok {
		return "", fmt.Errorf("chat: unknown kind %s", kind)
	}
	return "/app/direct/" + string(room) + suffix, nil
}
