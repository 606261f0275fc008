// ABOUTME: Matrix transport for the command surface using mautrix.
// ABOUTME: Maps operator matrix users to numeric IDs and serializes per sender.

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// sendTimeout bounds outbound Matrix API calls so shutdown never hangs on a
// slow homeserver.
const sendTimeout = 30 * time.Second

// MatrixOptions configures the Matrix transport.
type MatrixOptions struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	AllowedRooms  []string
	CommandPrefix string
	// Operators maps matrix user IDs to the numeric control-plane IDs the
	// router and grant registry work with.
	Operators map[string]int64
}

// inbound is one queued message for a sender's worker.
type inbound struct {
	room id.RoomID
	text string
}

// Matrix runs the chat command surface over a Matrix sync loop. Messages
// from the same operator are handled strictly in order; different operators
// are handled independently.
type Matrix struct {
	client    *mautrix.Client
	router    *Router
	opts      MatrixOptions
	operators map[id.UserID]int64
	logger    *slog.Logger

	mu       sync.Mutex
	queues   map[int64]chan inbound
	lastRoom map[int64]id.RoomID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMatrix creates the transport. It does not connect until Run.
func NewMatrix(opts MatrixOptions, router *Router, logger *slog.Logger) (*Matrix, error) {
	client, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	operators := make(map[id.UserID]int64, len(opts.Operators))
	for mxid, numeric := range opts.Operators {
		operators[id.UserID(mxid)] = numeric
	}

	return &Matrix{
		client:    client,
		router:    router,
		opts:      opts,
		operators: operators,
		logger:    logger.With("component", "matrix"),
		queues:    make(map[int64]chan inbound),
		lastRoom:  make(map[int64]id.RoomID),
	}, nil
}

// Run syncs until ctx is cancelled, reconnecting with exponential backoff
// on sync failures.
func (m *Matrix) Run(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	defer m.cancel()

	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, m.handleMessageEvent)

	m.logger.Info("matrix transport running",
		"homeserver", m.opts.Homeserver,
		"user_id", m.opts.UserID,
		"operators", len(m.operators),
	)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // retry forever; shutdown comes from ctx

	for {
		started := time.Now()
		err := m.client.SyncWithContext(m.ctx)
		if m.ctx.Err() != nil {
			m.logger.Info("matrix transport stopped")
			return nil
		}

		// A sync that held up for a while means the connection was fine;
		// start the backoff schedule over.
		if time.Since(started) > time.Minute {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		m.logger.Warn("matrix sync failed, reconnecting", "error", err, "wait", wait)
		select {
		case <-m.ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// handleMessageEvent filters and queues incoming Matrix messages.
func (m *Matrix) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(m.opts.UserID) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID
	if !m.isRoomAllowed(roomID.String()) {
		m.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body := content.Body
	if m.opts.CommandPrefix != "" {
		if !strings.HasPrefix(body, m.opts.CommandPrefix) {
			return
		}
		body = strings.TrimSpace(strings.TrimPrefix(body, m.opts.CommandPrefix))
	}
	if body == "" {
		return
	}

	senderID, ok := m.operators[evt.Sender]
	if !ok {
		m.logger.Debug("ignoring message from unmapped sender", "sender", evt.Sender)
		return
	}

	m.dispatch(senderID, roomID, body)
}

// dispatch hands the message to the sender's worker, creating it on first
// use. Per-sender ordering is what keeps onboarding steps sequential.
func (m *Matrix) dispatch(senderID int64, room id.RoomID, text string) {
	m.mu.Lock()
	m.lastRoom[senderID] = room
	q, ok := m.queues[senderID]
	if !ok {
		q = make(chan inbound, 16)
		m.queues[senderID] = q
		go m.worker(senderID, q)
	}
	m.mu.Unlock()

	select {
	case q <- inbound{room: room, text: text}:
	default:
		m.logger.Warn("dropping message, sender queue full", "sender_id", senderID)
	}
}

// worker processes one sender's messages in order.
func (m *Matrix) worker(senderID int64, q <-chan inbound) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-q:
			reply := m.router.Handle(m.ctx, senderID, msg.text)
			if reply == "" {
				continue
			}
			m.send(msg.room, reply)
		}
	}
}

// Notify implements access.Notifier. Delivery goes to the room the user
// last issued a command from; users who never spoke cannot be reached and
// the error is left to the caller to swallow.
func (m *Matrix) Notify(ctx context.Context, userID int64, text string) error {
	m.mu.Lock()
	room, ok := m.lastRoom[userID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no known room for user %d", userID)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := m.client.SendText(ctx, room, text); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	return nil
}

// send delivers a reply, logging failures.
func (m *Matrix) send(room id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if _, err := m.client.SendText(ctx, room, text); err != nil {
		m.logger.Error("failed to send reply", "room", room, "error", err)
	}
}

// isRoomAllowed checks the allowed-room filter; an empty filter allows all.
func (m *Matrix) isRoomAllowed(roomID string) bool {
	if len(m.opts.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range m.opts.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}
