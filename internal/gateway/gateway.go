// Package gateway implements the WebSocket gateway (C10): it accepts
// connections keyed by client id, runs one receiver task per
// connection, and a single shared dispatcher task that drains the
// websocket_out queue to the right socket(s).
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/envelope"
	"github.com/ctxlens/backend/pkg/Logger"
)

// closeDeadline bounds how long a close handshake may take during
// teardown, so a stuck socket can't stall Shutdown.
const closeDeadline = time.Second

// connection wraps one client's socket. Sends are serialized through
// sendMu since gorilla/websocket forbids concurrent writers on one
// conn; connected tracks liveness so the dispatcher can discard sends
// to a socket mid-teardown without surfacing an error.
type connection struct {
	clientID  string
	conn      *websocket.Conn
	sendMu    sync.Mutex
	connected bool

	cancel context.CancelFunc
}

func (c *connection) send(e *envelope.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.connected {
		return nil
	}
	return c.conn.WriteJSON(e)
}

// Gateway owns the registered connection set and the dispatcher loop.
type Gateway struct {
	log      *Logger.Logger
	incoming *bus.Queue // receiver tasks enqueue here
	wsOut    *bus.Queue // dispatcher drains this

	mu          sync.Mutex
	connections map[string]*connection

	dispatcherCancel context.CancelFunc
}

func New(log *Logger.Logger, incoming, wsOut *bus.Queue) *Gateway {
	return &Gateway{
		log:         log,
		incoming:    incoming,
		wsOut:       wsOut,
		connections: map[string]*connection{},
	}
}

// Accept registers a new connection for clientID, closing and
// replacing any existing connection for the same id (the spec's
// documented "replace" choice for a second socket on one client id),
// and starts its receiver task. It blocks until the receiver exits.
func (g *Gateway) Accept(ctx context.Context, clientID string, ws *websocket.Conn) {
	recvCtx, cancel := context.WithCancel(ctx)
	conn := &connection{clientID: clientID, conn: ws, connected: true, cancel: cancel}

	g.mu.Lock()
	if old, exists := g.connections[clientID]; exists {
		old.cancel()
		old.closeQuiet()
	}
	g.connections[clientID] = conn
	g.mu.Unlock()

	g.log.Infof("gateway: client %s connected", clientID)
	g.receive(recvCtx, conn)

	g.mu.Lock()
	if g.connections[clientID] == conn {
		delete(g.connections, clientID)
	}
	g.mu.Unlock()
	conn.closeQuiet()
	g.log.Infof("gateway: client %s disconnected", clientID)
}

func (c *connection) closeQuiet() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.connected {
		return
	}
	c.connected = false
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeDeadline))
	_ = c.conn.Close()
}

// receive is the per-connection receiver task: read one text frame,
// parse, stamp, and enqueue to incoming; repeat until cancelled or the
// socket errors out.
func (g *Gateway) receive(ctx context.Context, conn *connection) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			return // disconnect or cancel; cleanup happens in Accept
		}

		e, err := envelope.UnmarshalStrict(data)
		if err != nil {
			g.log.Warnf("gateway: dropping unparseable frame from %s: %v", conn.clientID, err)
			continue
		}

		e.ClientID = conn.clientID
		e.Origin = "websocket_client"
		e.AppendProcessing("gateway", "received", nil)

		if err := g.incoming.Enqueue(ctx, e); err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Errorf("gateway: enqueue from %s: %v", conn.clientID, err)
		}
	}
}

// RunDispatcher is the single shared dispatcher task: dequeue from
// websocket_out and route each envelope to its destination(s).
func (g *Gateway) RunDispatcher(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.dispatcherCancel = cancel

	g.log.Infof("gateway: dispatcher started")
	for {
		e, err := g.wsOut.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Errorf("gateway: dispatcher dequeue: %v", err)
			continue
		}
		g.dispatch(e)
	}
}

func (g *Gateway) dispatch(e *envelope.Envelope) {
	switch e.Destination {
	case "":
		g.log.Warnf("gateway: dropping envelope %s with no destination", e.ID)
	case envelope.GroupAllFrontends:
		g.broadcastToFrontends(e)
	default:
		g.mu.Lock()
		conn, ok := g.connections[e.Destination]
		g.mu.Unlock()
		if !ok {
			g.log.Warnf("gateway: destination %s not registered, dropping %s", e.Destination, e.ID)
			return
		}
		if err := conn.send(e); err != nil {
			g.log.Warnf("gateway: send to %s failed (treated as disconnect): %v", e.Destination, err)
		}
	}
}

// broadcastToFrontends fans the envelope out concurrently to every
// registered connection whose client id is a member of the
// all_frontends group, attempting exactly one send per recipient.
func (g *Gateway) broadcastToFrontends(e *envelope.Envelope) {
	g.mu.Lock()
	recipients := make([]*connection, 0, len(g.connections))
	for id, conn := range g.connections {
		if envelope.IsFrontend(id) {
			recipients = append(recipients, conn)
		}
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range recipients {
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			if err := c.send(e); err != nil {
				g.log.Warnf("gateway: broadcast send to %s failed: %v", c.clientID, err)
			}
		}(conn)
	}
	wg.Wait()
}

// Shutdown cancels the dispatcher, cancels every receiver, and closes
// every socket, per §5's shutdown ordering (gateway dispatcher, then
// receivers, then sockets).
func (g *Gateway) Shutdown() {
	if g.dispatcherCancel != nil {
		g.dispatcherCancel()
	}

	g.mu.Lock()
	conns := make([]*connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.connections = map[string]*connection{}
	g.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		c.closeQuiet()
	}
}

// ConnectedClientIDs reports every currently registered client id, for
// the stats endpoint.
func (g *Gateway) ConnectedClientIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.connections))
	for id := range g.connections {
		ids = append(ids, id)
	}
	return ids
}
