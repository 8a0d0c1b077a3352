package gateway

import (
	"encoding/json"

	"github.com/webitel/chat-delivery-service/internal/domain/model"
)

// Inbound transport event type discriminators (spec.md §4.7).
const (
	inboundSendMessage      = "send_message"
	inboundMessageDelivered = "message_delivered"
)

// Outbound transport event type discriminators (spec.md §4.5, §4.7).
const (
	outboundMessageReceived = "message_received"
	outboundIncomingMessage = "incoming_message"
	outboundError           = "error"
)

// inboundEnvelope is the wire shape every incoming transport frame is
// decoded against; unused fields are simply ignored per event type.
type inboundEnvelope struct {
	Type              string                `json:"type"`
	ReceiverID        string                `json:"receiver_id"`
	Content           string                `json:"content"`
	MessageIDByClient model.ClientMessageID `json:"message_id_by_client"`
	MessageID         string                `json:"message_id"`
	Timestamp         int64                 `json:"timestamp"`
}

func decodeInbound(data []byte) (*inboundEnvelope, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// encodeMessageReceived emits the message_received wire shape spec.md §6
// defines with an "action" discriminator, distinct from the "type" key
// every other outbound event uses.
func encodeMessageReceived(messageID string, messageIDByClient model.ClientMessageID, timestamp int64) []byte {
	b, _ := json.Marshal(struct {
		Action            string                `json:"action"`
		MessageID         string                `json:"message_id"`
		MessageIDByClient model.ClientMessageID `json:"message_id_by_client"`
		Timestamp         int64                 `json:"timestamp"`
	}{outboundMessageReceived, messageID, messageIDByClient, timestamp})
	return b
}

func encodeIncomingMessage(messageID, senderID, content string, timestamp int64) []byte {
	b, _ := json.Marshal(struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		SenderID  string `json:"sender_id"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
	}{outboundIncomingMessage, messageID, senderID, content, timestamp})
	return b
}

func encodeError(message string) []byte {
	b, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{outboundError, message})
	return b
}
