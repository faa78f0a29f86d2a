package hub

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/choco0031/thisorthat/internal/engine"
	"github.com/choco0031/thisorthat/internal/lobby"
	"github.com/choco0031/thisorthat/pkg/types"
)

// session is one lobby code: its roster, its round engine once a game was
// started, and its timer slot.
type session struct {
	lobby     *lobby.Lobby
	round     *engine.Round
	timer     *slot
	startedAt time.Time
}

// sessionOut routes engine events to the gateway and archives finished
// games on the way.
type sessionOut struct {
	h *Hub
	s *session
}

func (o sessionOut) Broadcast(code string, ev types.ServerEvent) {
	o.h.gw.Broadcast(code, ev)
	if ended, ok := ev.(types.GameEnded); ok {
		o.h.archiveGame(o.s, ended)
	}
}

func (h *Hub) archiveGame(s *session, ended types.GameEnded) {
	if h.opts.Archive == nil || s.round == nil {
		return
	}
	st := s.round.State()
	h.opts.Archive.Record(types.GameSummary{
		Code:         s.lobby.Code,
		Host:         s.lobby.Host,
		Players:      s.lobby.Usernames(),
		TotalRounds:  st.TotalRounds,
		RoundsPlayed: len(st.UsedTopics),
		FinalScores:  ended.FinalScores,
		StartedAt:    s.startedAt,
		EndedAt:      h.now(),
	})
}

func (h *Hub) createLobby(username string) CreateResult {
	if !lobby.ValidUsername(username) {
		return CreateResult{Err: ErrInvalidUsername}
	}
	name := lobby.NormalizeUsername(username)
	code, err := h.freshCode()
	if err != nil {
		return CreateResult{Err: fmt.Errorf("create lobby: %w", err)}
	}

	s := &session{lobby: lobby.New(code, name, h.now())}
	s.timer = &slot{h: h, code: code}
	h.sessions[code] = s

	h.log.Info("lobby created", zapCode(code), zapUser(name))
	return CreateResult{Code: code, Lobby: s.lobby.View()}
}

func (h *Hub) joinLobby(code, username string) JoinResult {
	code = types.NormalizeCode(code)
	s := h.sessions[code]
	if s == nil {
		return JoinResult{Err: ErrLobbyNotFound}
	}
	// Only the creator is held to the length rule.
	name := lobby.NormalizeUsername(username)
	if name == "" {
		return JoinResult{Err: ErrMissingUsername}
	}

	reconnected := h.admit(s, name)
	h.gw.Broadcast(code, types.LobbyUpdated{Lobby: s.lobby.View()})
	return JoinResult{Lobby: s.lobby.View(), Reconnection: reconnected}
}

// admit puts username on the roster. A known name is a reconnection: its
// seat, score and vote are kept and any pending eviction is cancelled.
func (h *Hub) admit(s *session, username string) (reconnected bool) {
	code := s.lobby.Code
	if s.lobby.Find(username) != nil {
		s.lobby.SetConnected(username, true)
		if h.tracker.Cancel(code, username) {
			h.log.Info("participant reconnected", zapCode(code), zapUser(username))
		}
		return true
	}

	s.lobby.Add(username)
	if s.round != nil {
		s.round.AddPlayer(username)
	}
	h.log.Info("participant joined", zapCode(code), zapUser(username))
	return false
}

func (h *Hub) inspect(code string) Inspection {
	s := h.sessions[types.NormalizeCode(code)]
	if s == nil {
		return Inspection{Err: ErrLobbyNotFound}
	}
	in := Inspection{
		Lobby:   s.lobby.View(),
		Pending: h.tracker.ForLobby(s.lobby.Code),
		Members: h.gw.Members(s.lobby.Code),
	}
	if s.round != nil {
		st := s.round.State()
		in.Game = &st
	}
	return in
}

func (h *Hub) fromClient(clientID string, m types.ClientMessage) {
	var err error
	switch msg := m.(type) {
	case types.JoinLobby:
		err = h.channelJoin(clientID, msg)
	case types.LeaveLobby:
		h.gw.Leave(clientID)
		err = h.leave(msg.Code, lobby.NormalizeUsername(msg.Username))
	case types.StartGame:
		err = h.startGame(msg.Code, lobby.NormalizeUsername(msg.Username))
	case types.CastVote:
		err = h.castVote(msg)
	case types.RequestSync:
		err = h.sync(clientID, msg.Code)
	case types.RestartGame:
		err = h.restart(clientID, msg.Code)
	}
	if err != nil {
		h.log.Debug("client event ignored",
			zap.String("client", clientID),
			zapCode(m.LobbyCode()),
			zap.Error(err))
	}
}

func (h *Hub) channelJoin(clientID string, msg types.JoinLobby) error {
	s := h.sessions[msg.Code]
	if s == nil {
		return ErrMissingSession
	}
	name := lobby.NormalizeUsername(msg.Username)
	if !h.gw.Join(clientID, msg.Code, name) {
		return fmt.Errorf("join %s: client %s is gone", msg.Code, clientID)
	}

	if s.lobby.Find(name) != nil {
		h.admit(s, name)
	}
	if s.round != nil && s.round.Phase() != types.PhaseWaiting {
		h.gw.Send(clientID, s.round.Snapshot(name))
	}
	h.gw.Broadcast(msg.Code, types.LobbyUpdated{Lobby: s.lobby.View()})
	return nil
}

func (h *Hub) disconnect(clientID string) {
	code, username := h.gw.Unregister(clientID)
	if code == "" || username == "" {
		return
	}
	if h.gw.BoundElsewhere(code, username, clientID) {
		h.log.Debug("stale connection closed", zap.String("client", clientID), zapCode(code), zapUser(username))
		return
	}
	if err := h.leave(code, username); err != nil {
		h.log.Debug("disconnect ignored", zap.String("client", clientID), zap.Error(err))
	}
}

// leave handles both an explicit leave and a dropped connection. During an
// active round the seat is kept for the grace window; otherwise the
// participant is removed and a departing host closes the lobby.
func (h *Hub) leave(code, username string) error {
	s := h.sessions[code]
	if s == nil {
		return ErrMissingSession
	}
	if s.lobby.Find(username) == nil {
		return fmt.Errorf("leave %s: %w", username, engine.ErrNotParticipant)
	}

	if s.round != nil && s.round.Active() {
		s.lobby.SetConnected(username, false)
		h.tracker.Track(code, username, h.now())
		h.log.Info("participant disconnected", zapCode(code), zapUser(username))
		h.gw.Broadcast(code, types.LobbyUpdated{Lobby: s.lobby.View()})
		s.round.Reevaluate()
		return nil
	}

	h.removeParticipant(s, username)
	return nil
}

// removeParticipant drops username from the roster, destroying the session
// when that was the host or the last participant.
func (h *Hub) removeParticipant(s *session, username string) {
	code := s.lobby.Code
	s.lobby.Remove(username)
	h.tracker.Cancel(code, username)
	h.log.Info("participant removed", zapCode(code), zapUser(username))

	if s.lobby.Empty() || s.lobby.IsHost(username) {
		h.destroy(s)
		return
	}
	h.gw.Broadcast(code, types.LobbyUpdated{Lobby: s.lobby.View()})
	if s.round != nil {
		s.round.Reevaluate()
	}
}

func (h *Hub) destroy(s *session) {
	code := s.lobby.Code
	s.timer.Cancel()
	h.tracker.ForgetLobby(code)
	delete(h.sessions, code)
	h.gw.Broadcast(code, types.LobbyClosed{})
	h.gw.CloseGroup(code)
	h.log.Info("lobby closed", zapCode(code))
}

func (h *Hub) startGame(code, username string) error {
	s := h.sessions[code]
	if s == nil {
		return ErrMissingSession
	}
	if s.round != nil && !s.round.Ended() {
		return fmt.Errorf("start %s: game in progress: %w", code, engine.ErrPreconditionNotMet)
	}
	if err := engine.CanStart(s.lobby, username); err != nil {
		return fmt.Errorf("start %s by %s: %w", code, username, err)
	}

	s.timer.Cancel()
	s.lobby.GameStarted = true
	s.startedAt = h.now()
	s.round = h.newRound(s)
	s.round.Start()
	h.log.Info("game started", zapCode(code), zap.Int("players", s.lobby.Len()))
	return nil
}

func (h *Hub) castVote(msg types.CastVote) error {
	s := h.sessions[msg.Code]
	if s == nil || s.round == nil {
		return ErrMissingSession
	}
	return s.round.CastVote(lobby.NormalizeUsername(msg.Username), msg.Vote)
}

func (h *Hub) sync(clientID, code string) error {
	s := h.sessions[code]
	if s == nil || s.round == nil {
		return ErrMissingSession
	}
	username := ""
	if bound, name, ok := h.gw.Binding(clientID); ok && bound == code {
		username = name
	}
	h.gw.Send(clientID, s.round.Snapshot(username))
	return nil
}

// restart trusts the username the connection joined with, since the event
// itself carries only a code.
func (h *Hub) restart(clientID, code string) error {
	s := h.sessions[code]
	if s == nil || s.round == nil {
		return ErrMissingSession
	}
	bound, username, ok := h.gw.Binding(clientID)
	if !ok || bound != code {
		return fmt.Errorf("restart %s: %w", code, engine.ErrPreconditionNotMet)
	}
	if err := s.round.Restart(username); err != nil {
		return fmt.Errorf("restart %s by %s: %w", code, username, err)
	}
	s.startedAt = h.now()
	h.log.Info("game restarted", zapCode(code))
	return nil
}

// sweep evicts everyone whose grace window ran out by now.
func (h *Hub) sweep(now time.Time) {
	for _, e := range h.tracker.Expire(now) {
		s := h.sessions[e.Code]
		if s == nil {
			continue
		}
		p := s.lobby.Find(e.Username)
		if p == nil || p.Connected {
			continue
		}
		h.log.Info("grace window expired", zapCode(e.Code), zapUser(e.Username))
		h.removeParticipant(s, e.Username)
	}
}
