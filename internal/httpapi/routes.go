package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/choco0031/thisorthat/internal/hub"
	"github.com/choco0031/thisorthat/internal/ws"
)

type Deps struct {
	Hub       *hub.Hub
	Logger    *zap.Logger
	PublicURL string
	Version   string
	WS        ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	if d.WS.Logger == nil {
		d.WS.Logger = d.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Route("/api/lobby", func(r chi.Router) {
		r.Post("/create", CreateLobby(d.Hub, log))
		r.Post("/join", JoinLobby(d.Hub, log))
		r.Get("/{code}", GetLobby(d.Hub))
		r.Get("/{code}/qr", LobbyQR(d.Hub, d.PublicURL))
	})
	r.Get("/healthz", Healthz)
	r.Get("/version", Version(d.Version))
	r.Get("/ws", ws.Handler(d.Hub, d.WS))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("took", time.Since(start)))
		})
	}
}
