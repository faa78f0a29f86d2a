package hub

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/choco0031/thisorthat/internal/engine"
	"github.com/choco0031/thisorthat/internal/gateway"
	"github.com/choco0031/thisorthat/internal/topics"
	"github.com/choco0031/thisorthat/internal/tracker"
	"github.com/choco0031/thisorthat/pkg/types"
)

const DefaultSweepInterval = 60 * time.Second

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Username string
	Reply    chan CreateResult
}

type CreateResult struct {
	Code  string
	Lobby types.LobbyView
	Err   error
}

// JoinLobby is the request/response join. Joining a live channel is a
// FromClient carrying types.JoinLobby.
type JoinLobby struct {
	Code     string
	Username string
	Reply    chan JoinResult
}

type JoinResult struct {
	Lobby        types.LobbyView
	Reconnection bool
	Err          error
}

type GetLobby struct {
	Code  string
	Reply chan Inspection
}

// Inspection is a copy of one session, safe to read outside the hub.
type Inspection struct {
	Lobby types.LobbyView
	// Game is nil until a game was started.
	Game    *engine.State
	Pending []tracker.Entry
	Members int
	Err     error
}

type Connect struct {
	ClientID string
	Outbox   chan types.ServerEvent
}

type Disconnect struct {
	ClientID string
}

type FromClient struct {
	ClientID string
	Msg      types.ClientMessage
}

// Sweep evicts reconnection entries older than the grace window at At.
type Sweep struct {
	At time.Time
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (JoinLobby) isHubMsg()   {}
func (GetLobby) isHubMsg()    {}
func (Connect) isHubMsg()     {}
func (Disconnect) isHubMsg()  {}
func (FromClient) isHubMsg()  {}
func (Sweep) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

// Archiver receives finished games. Record must not block.
type Archiver interface {
	Record(types.GameSummary)
}

type Options struct {
	Topics  *topics.Pool
	Rounds  int
	Timings engine.Timings
	Grace   time.Duration
	// SweepInterval below zero disables the periodic sweep; Sweep messages
	// still work.
	SweepInterval time.Duration
	Archive       Archiver
	Logger        *zap.Logger

	// Overridable for tests.
	Now       func() time.Time
	AfterFunc AfterFunc
	Codes     func() (string, error)
	Rand      *rand.Rand
}

// Hub is the session registry. One goroutine owns every lobby, round
// engine, timer slot, the reconnection tracker and the gateway.
type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session
	gw       *gateway.Gateway
	tracker  *tracker.Tracker
	opts     Options
	log      *zap.Logger

	now       func() time.Time
	afterFunc AfterFunc
	codes     func() (string, error)
	gen       uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	if opts.Topics == nil {
		opts.Topics = topics.Fallback()
	}
	if opts.Rounds <= 0 {
		opts.Rounds = engine.DefaultTotalRounds
	}
	if opts.Timings == (engine.Timings{}) {
		opts.Timings = engine.DefaultTimings()
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Codes == nil {
		opts.Codes = GenerateCode
	}

	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger.Named("hub")
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		sessions:  make(map[string]*session),
		gw:        gateway.New(log.Named("gateway")),
		tracker:   tracker.New(opts.Grace),
		opts:      opts,
		log:       log,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
		codes:     opts.Codes,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the loop has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.opts.SweepInterval > 0 {
		t := time.NewTicker(h.opts.SweepInterval)
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-sweep:
			h.sweep(h.now())

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				msg.Reply <- h.createLobby(msg.Username)

			case JoinLobby:
				msg.Reply <- h.joinLobby(msg.Code, msg.Username)

			case GetLobby:
				msg.Reply <- h.inspect(msg.Code)

			case Connect:
				h.gw.Register(msg.ClientID, msg.Outbox)

			case Disconnect:
				h.disconnect(msg.ClientID)

			case FromClient:
				h.fromClient(msg.ClientID, msg.Msg)

			case timerFired:
				h.onTimer(msg)

			case Sweep:
				h.sweep(msg.At)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.log.Info("hub stopping",
		zap.Int("sessions", len(h.sessions)),
		zap.Int("connections", h.gw.Len()),
		zap.Int("pending_reconnects", h.tracker.Len()))
	for code, s := range h.sessions {
		s.timer.Cancel()
		delete(h.sessions, code)
	}
	h.gw.CloseAll()
	h.cancel()
	h.log.Info("hub stopped")
}

// post is used by timer goroutines; it gives up once the hub is gone.
func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.done:
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		return zero, ErrHubClosed
	}
}

// CreateLobby makes a new lobby hosted by username.
func (h *Hub) CreateLobby(ctx context.Context, username string) (string, types.LobbyView, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateLobby{Username: username, Reply: reply}); err != nil {
		return "", types.LobbyView{}, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return "", types.LobbyView{}, err
	}
	return res.Code, res.Lobby, res.Err
}

// JoinLobby adds username to code, or marks it connected again if it is
// already on the roster.
func (h *Hub) JoinLobby(ctx context.Context, code, username string) (types.LobbyView, bool, error) {
	reply := make(chan JoinResult, 1)
	if err := h.send(ctx, JoinLobby{Code: code, Username: username, Reply: reply}); err != nil {
		return types.LobbyView{}, false, err
	}
	res, err := await(ctx, h, reply)
	if err != nil {
		return types.LobbyView{}, false, err
	}
	return res.Lobby, res.Reconnection, res.Err
}

func (h *Hub) Inspect(ctx context.Context, code string) (Inspection, error) {
	reply := make(chan Inspection, 1)
	if err := h.send(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return Inspection{}, err
	}
	in, err := await(ctx, h, reply)
	if err != nil {
		return Inspection{}, err
	}
	return in, in.Err
}

func (h *Hub) Lobby(ctx context.Context, code string) (types.LobbyView, error) {
	in, err := h.Inspect(ctx, code)
	return in.Lobby, err
}

// Connect registers a transport connection. The hub closes outbox when the
// connection is dropped or the hub stops.
func (h *Hub) Connect(ctx context.Context, clientID string, outbox chan types.ServerEvent) error {
	return h.send(ctx, Connect{ClientID: clientID, Outbox: outbox})
}

func (h *Hub) Disconnect(ctx context.Context, clientID string) error {
	return h.send(ctx, Disconnect{ClientID: clientID})
}

func (h *Hub) Dispatch(ctx context.Context, clientID string, msg types.ClientMessage) error {
	return h.send(ctx, FromClient{ClientID: clientID, Msg: msg})
}

func (h *Hub) Sweep(ctx context.Context, at time.Time) error {
	return h.send(ctx, Sweep{At: at})
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) newRound(s *session) *engine.Round {
	return engine.New(s.lobby, engine.Config{
		Pool:        h.opts.Topics,
		Out:         sessionOut{h: h, s: s},
		Timer:       s.timer,
		Timings:     h.opts.Timings,
		TotalRounds: h.opts.Rounds,
		Rand:        h.opts.Rand,
	})
}

func zapCode(code string) zap.Field { return zap.String("code", code) }

func zapUser(username string) zap.Field { return zap.String("username", username) }

func zapStep(step engine.Step) zap.Field { return zap.Stringer("step", step) }
