package chat

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// RoomID identifies a direct chat room. The server encodes it as a number;
// both numbers and strings are accepted.
type RoomID string

// UnmarshalJSON implements json.Unmarshaler.
func (r *RoomID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("invalid room id %s: %w", data, err)
		}
		*r = RoomID(s)
		return nil
	}
	if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
		return fmt.Errorf("invalid room id %s", data)
	}
	*r = RoomID(data)
	return nil
}

// Credential is the bearer token presented on every connection attempt.
type Credential string

// MessageType is the kind of a chat message.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

// Timestamp is a server timestamp. The server sends local date-times without
// a zone; RFC 3339 is accepted too.
type Timestamp struct {
	time.Time
}

const localDateTime = "2006-01-02T15:04:05.999999999"

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, localDateTime} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// MarshalJSON implements json.Marshaler using the server's layout.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Format(localDateTime))), nil
}

// InboundMessage is a chat message delivered on the room topic.
type InboundMessage struct {
	ID              int64       `json:"id"`
	RoomID          RoomID      `json:"roomId"`
	SenderID        int64       `json:"senderId"`
	Username        string      `json:"username"`
	Nickname        string      `json:"nickname"`
	ProfileImageURL string      `json:"profileImageUrl,omitempty"`
	Message         string      `json:"message"`
	CreatedTime     Timestamp   `json:"createdTime"`
	MessageType     MessageType `json:"messageType,omitempty"`
	FileURL         string      `json:"fileUrl,omitempty"`
	FileName        string      `json:"fileName,omitempty"`
	FileSize        int64       `json:"fileSize,omitempty"`
	IsRead          bool        `json:"isRead"`
}

// TypingEvent reports that a user started or stopped typing.
type TypingEvent struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceipt reports that a user has read a message.
type ReadReceipt struct {
	MessageID int64  `json:"messageId"`
	Username  string `json:"username"`
	IsRead    bool   `json:"isRead"`
}

// OutboundMessage is the body published to the send destination.
type OutboundMessage struct {
	Message string `json:"message"`
}

// ReadRequest is the body published to the read destination.
type ReadRequest struct {
	MessageID int64 `json:"messageId"`
}
