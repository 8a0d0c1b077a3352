package model

// EventKind discriminates the payload carried by an Eventer.
type EventKind int16

const (
	EventIncomingMessage EventKind = iota + 1
	EventMessageReceived
	EventError
)

// Eventer is the contract for anything the Dispatcher or Session Gateway
// pushes down a Connector's outbound channel. Grounded on the teacher's
// registry.Celler / model.Eventer split (webitel-im-delivery-service),
// collapsed to the single-session model spec.md §4.1 requires.
type Eventer interface {
	GetKind() EventKind
	GetUserID() string
	GetPayload() any
}

type baseEvent struct {
	kind    EventKind
	userID  string
	payload any
}

func (e *baseEvent) GetKind() EventKind { return e.kind }
func (e *baseEvent) GetUserID() string  { return e.userID }
func (e *baseEvent) GetPayload() any    { return e.payload }

// IncomingMessagePayload is the wire shape of the `incoming_message`
// outbound event (spec.md §6).
type IncomingMessagePayload struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func NewIncomingMessageEvent(userID string, p IncomingMessagePayload) Eventer {
	return &baseEvent{kind: EventIncomingMessage, userID: userID, payload: p}
}

// MessageReceivedPayload acknowledges an accepted send back to its own
// sender (spec.md §4.5: "the client-supplied echo enables the sender to
// reconcile its optimistic UI with the server-assigned id").
type MessageReceivedPayload struct {
	MessageID         string          `json:"message_id"`
	MessageIDByClient ClientMessageID `json:"message_id_by_client"`
	Timestamp         int64           `json:"timestamp"`
}

func NewMessageReceivedEvent(userID string, p MessageReceivedPayload) Eventer {
	return &baseEvent{kind: EventMessageReceived, userID: userID, payload: p}
}

// ErrorPayload reports a rejected inbound frame back on the same session.
type ErrorPayload struct {
	Message string `json:"message"`
}

func NewErrorEvent(userID, message string) Eventer {
	return &baseEvent{kind: EventError, userID: userID, payload: ErrorPayload{Message: message}}
}

// QueueItem is the on-wire payload crossing the durable queue (spec.md §3).
type QueueItem struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"` // ISO-8601
}
