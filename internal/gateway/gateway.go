package gateway

import (
	"go.uber.org/zap"

	"github.com/choco0031/thisorthat/pkg/types"
)

// Gateway fans events out to the clients subscribed to a lobby code. It is
// owned by the hub goroutine and does no locking.
type Gateway struct {
	log     *zap.Logger
	clients map[string]*client
	groups  map[string]map[string]struct{}
}

type client struct {
	outbox   chan<- types.ServerEvent
	code     string
	username string
	dropped  bool
}

func New(log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		log:     log,
		clients: make(map[string]*client),
		groups:  make(map[string]map[string]struct{}),
	}
}

// Register adds a connection. The gateway becomes the only closer of outbox.
func (g *Gateway) Register(id string, outbox chan<- types.ServerEvent) {
	if old, ok := g.clients[id]; ok {
		g.drop(id, old)
	}
	g.clients[id] = &client{outbox: outbox}
}

// Unregister removes a connection and returns what it was bound to, so the
// caller can treat the drop as a leave.
func (g *Gateway) Unregister(id string) (code, username string) {
	c, ok := g.clients[id]
	if !ok {
		return "", ""
	}
	code, username = c.code, c.username
	g.leaveGroup(id, c)
	if !c.dropped {
		close(c.outbox)
	}
	delete(g.clients, id)
	return code, username
}

// Join binds a connection to (code, username) and subscribes it to code,
// leaving any group it was in before.
func (g *Gateway) Join(id, code, username string) bool {
	c, ok := g.clients[id]
	if !ok || c.dropped {
		return false
	}
	if c.code != code {
		g.leaveGroup(id, c)
	}
	c.code, c.username = code, username

	members := g.groups[code]
	if members == nil {
		members = make(map[string]struct{})
		g.groups[code] = members
	}
	members[id] = struct{}{}
	return true
}

// Leave unsubscribes a connection and forgets its binding.
func (g *Gateway) Leave(id string) {
	if c, ok := g.clients[id]; ok {
		g.leaveGroup(id, c)
		c.code, c.username = "", ""
	}
}

// Binding reports what a connection last joined as.
func (g *Gateway) Binding(id string) (code, username string, ok bool) {
	c, found := g.clients[id]
	if !found || c.code == "" {
		return "", "", false
	}
	return c.code, c.username, true
}

// BoundElsewhere reports whether a live connection other than exceptID is
// joined to code as username.
func (g *Gateway) BoundElsewhere(code, username, exceptID string) bool {
	for id := range g.groups[code] {
		if id == exceptID {
			continue
		}
		if c, ok := g.clients[id]; ok && !c.dropped && c.username == username {
			return true
		}
	}
	return false
}

// Broadcast delivers ev to every subscriber of code. A subscriber whose
// outbox is full is dropped.
func (g *Gateway) Broadcast(code string, ev types.ServerEvent) {
	for id := range g.groups[code] {
		g.deliver(id, g.clients[id], ev)
	}
}

// Send is the unicast path.
func (g *Gateway) Send(id string, ev types.ServerEvent) bool {
	c, ok := g.clients[id]
	if !ok || c.dropped {
		return false
	}
	return g.deliver(id, c, ev)
}

// CloseGroup unsubscribes everyone from code. Connections stay open so the
// clients can join another lobby.
func (g *Gateway) CloseGroup(code string) {
	for id := range g.groups[code] {
		if c, ok := g.clients[id]; ok {
			c.code, c.username = "", ""
		}
	}
	delete(g.groups, code)
}

// CloseAll closes every outbox, ending all writers.
func (g *Gateway) CloseAll() {
	for id := range g.clients {
		g.Unregister(id)
	}
}

// Members counts the subscribers of code.
func (g *Gateway) Members(code string) int { return len(g.groups[code]) }

func (g *Gateway) Len() int { return len(g.clients) }

func (g *Gateway) deliver(id string, c *client, ev types.ServerEvent) bool {
	if c == nil || c.dropped {
		return false
	}
	select {
	case c.outbox <- ev:
		return true
	default:
		g.log.Warn("dropping slow client",
			zap.String("client", id),
			zap.String("code", c.code),
			zap.String("event", ev.EventName()))
		g.drop(id, c)
		return false
	}
}

// drop closes the outbox but keeps the binding until Unregister, so the
// transport's disconnect can still be mapped to a participant.
func (g *Gateway) drop(id string, c *client) {
	if c.dropped {
		return
	}
	c.dropped = true
	close(c.outbox)
	if members := g.groups[c.code]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(g.groups, c.code)
		}
	}
}

func (g *Gateway) leaveGroup(id string, c *client) {
	if c.code == "" {
		return
	}
	if members := g.groups[c.code]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(g.groups, c.code)
		}
	}
}
