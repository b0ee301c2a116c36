package broker

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/chat"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const appPrefix = "/app/direct/"

// route turns a client SEND into the broadcast the chat server would emit.
func (s *Server) route(sess *session, destination string, body []byte) error {
	rest, ok := strings.CutPrefix(destination, appPrefix)
	if !ok {
		return fmt.Errorf("unknown destination %q", destination)
	}
	room, action, ok := strings.Cut(rest, "/")
	if !ok || room == "" {
		return fmt.Errorf("unknown destination %q", destination)
	}
	roomID := chat.RoomID(room)

	var (
		topic   string
		payload any
	)
	switch action {
	case "send":
		var in chat.OutboundMessage
		if err := json.Unmarshal(body, &in); err != nil {
			return fmt.Errorf("invalid message body: %w", err)
		}
		if strings.TrimSpace(in.Message) == "" {
			return errors.New("empty message")
		}
		topic = chat.Topic(roomID, chat.SuffixMessages)
		payload = chat.InboundMessage{
			ID:          s.messageID.Add(1),
			RoomID:      roomID,
			SenderID:    sess.claims.UserID,
			Username:    sess.claims.Subject,
			Nickname:    sess.claims.Nickname,
			Message:     in.Message,
			CreatedTime: chat.Timestamp{Time: s.now()},
			MessageType: chat.MessageTypeText,
		}

	case "typing/start", "typing/stop":
		topic = chat.Topic(roomID, chat.SuffixTyping)
		payload = chat.TypingEvent{
			Username: sess.claims.Subject,
			IsTyping: action == "typing/start",
		}

	case "read":
		var in chat.ReadRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return fmt.Errorf("invalid read body: %w", err)
		}
		topic = chat.Topic(roomID, chat.SuffixRead)
		payload = chat.ReadReceipt{
			MessageID: in.MessageID,
			Username:  sess.claims.Subject,
			IsRead:    true,
		}

	default:
		return fmt.Errorf("unknown destination %q", destination)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}
	n := s.Publish(topic, data)
	sess.log.Debug("broadcast", zap.String("destination", topic), zap.Int("subscribers", n))
	return nil
}
