package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/choco0031/thisorthat/internal/hub"
	"github.com/choco0031/thisorthat/pkg/types"
)

type Options struct {
	Logger         *zap.Logger
	OriginPatterns []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OutboxSize     int
	ReadLimit      int64
	// Inbound frames per second per connection, with Burst on top.
	Rate  rate.Limit
	Burst int
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4 << 10
	}
	if o.Rate <= 0 {
		o.Rate = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
}

// Handler upgrades to a websocket and relays frames between the client and
// the hub. The hub owns the outbox; when it closes it the connection ends.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts.defaults()
	log := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(opts.ReadLimit)

		clientID := uuid.NewString()
		clog := log.With(zap.String("client", clientID))

		out := make(chan types.ServerEvent, opts.OutboxSize)
		if err := h.Connect(r.Context(), clientID, out); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}
		defer func() {
			// the request context may already be gone
			_ = h.Disconnect(context.Background(), clientID)
		}()
		clog.Debug("connected")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out, opts, clog)

		// Reader loop
		limiter := rate.NewLimiter(opts.Rate, opts.Burst)
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					clog.Debug("closed by client")
				default:
					if !errors.Is(err, context.Canceled) {
						clog.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			if !limiter.Allow() {
				writeNotice(r.Context(), conn, opts.WriteTimeout, "slow down")
				continue
			}

			msg, err := types.DecodeClientMessage(data)
			if err != nil {
				clog.Debug("bad frame", zap.Error(err))
				writeNotice(r.Context(), conn, opts.WriteTimeout, err.Error())
				continue
			}

			if err := h.Dispatch(r.Context(), clientID, msg); err != nil {
				clog.Debug("dispatch failed", zap.Error(err))
				return
			}
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan types.ServerEvent, opts Options, log *zap.Logger) {
	ping := time.NewTicker(opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-out:
			if !ok {
				// dropped by the hub for being slow, or the hub stopped
				conn.Close(websocket.StatusPolicyViolation, "outbox closed")
				return
			}
			payload, err := types.EncodeEvent(ev)
			if err != nil {
				log.Error("encode failed", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func writeNotice(ctx context.Context, conn *websocket.Conn, timeout time.Duration, message string) {
	payload, err := types.EncodeEvent(types.ErrorNotice{Message: message})
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
