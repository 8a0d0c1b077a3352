package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
)

// Connector is the narrow behavior bundle a Session Gateway session exposes
// to the rest of the core (spec.md §9's "behavior contract" redesign of
// the source's injection tokens). Grounded on the teacher's
// registry.Connector, trimmed of the multi-device pooling machinery that
// spec.md's Non-goals rule out.
type Connector interface {
	GetID() string
	GetUserID() string
	// Send enqueues ev for delivery to the session's transport. It returns
	// false if the session is closed or the mailbox stayed full for the
	// whole timeout window.
	Send(ev model.Eventer, timeout time.Duration) bool
	Recv() <-chan model.Eventer
	// Done reports session teardown, mirroring context.Context.Done() so a
	// gateway pump loop can select on it alongside Recv().
	Done() <-chan struct{}
	Close()
}

type connector struct {
	id     string
	userID string

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh chan model.Eventer
}

// NewConnector creates a session-scoped mailbox bound to userID. bufferSize
// bounds how far the Dispatcher/gateway can get ahead of a slow transport
// before Send starts blocking (spec.md §5's suspension-point discipline).
func NewConnector(ctx context.Context, userID string, bufferSize int) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connector{
		id:       uuid.NewString(),
		userID:   userID,
		ctx:      childCtx,
		cancelFn: cancel,
		sendCh:   make(chan model.Eventer, bufferSize),
	}
}

func (c *connector) GetID() string     { return c.id }
func (c *connector) GetUserID() string { return c.userID }

func (c *connector) Send(ev model.Eventer, timeout time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (c *connector) Recv() <-chan model.Eventer { return c.sendCh }

func (c *connector) Done() <-chan struct{} { return c.ctx.Done() }

func (c *connector) Close() {
	c.cancelFn()
}
