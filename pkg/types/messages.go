package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client -> Server
// Every frame is {"event": <name>, "data": {...}}.
//
// join-lobby:   code, username
// leave-lobby:  code, username
// start-game:   code, username
// cast-vote:    code, username, vote ("option1" | "option2")
// request-sync: code
// restart-game: code

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedMessage = errors.New("malformed message")
)

const (
	EvtJoinLobby   = "join-lobby"
	EvtLeaveLobby  = "leave-lobby"
	EvtStartGame   = "start-game"
	EvtCastVote    = "cast-vote"
	EvtRequestSync = "request-sync"
	EvtRestartGame = "restart-game"
)

// Frame is the envelope used in both directions on the channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is the closed set of events a client may send.
type ClientMessage interface {
	LobbyCode() string
	validate() error
}

type JoinLobby struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type LeaveLobby struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type StartGame struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type CastVote struct {
	Code     string `json:"code"`
	Username string `json:"username"`
	Vote     Choice `json:"vote"`
}

type RequestSync struct {
	Code string `json:"code"`
}

type RestartGame struct {
	Code string `json:"code"`
}

func (m JoinLobby) LobbyCode() string   { return m.Code }
func (m LeaveLobby) LobbyCode() string  { return m.Code }
func (m StartGame) LobbyCode() string   { return m.Code }
func (m CastVote) LobbyCode() string    { return m.Code }
func (m RequestSync) LobbyCode() string { return m.Code }
func (m RestartGame) LobbyCode() string { return m.Code }

func (m JoinLobby) validate() error  { return requireFields(m.Code, m.Username) }
func (m LeaveLobby) validate() error { return requireFields(m.Code, m.Username) }
func (m StartGame) validate() error  { return requireFields(m.Code, m.Username) }

func (m CastVote) validate() error {
	if err := requireFields(m.Code, m.Username); err != nil {
		return err
	}
	if !m.Vote.Valid() {
		return fmt.Errorf("%w: vote %q", ErrMalformedMessage, m.Vote)
	}
	return nil
}

func (m RequestSync) validate() error { return requireFields(m.Code) }
func (m RestartGame) validate() error { return requireFields(m.Code) }

func requireFields(fields ...string) error {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: missing field", ErrMalformedMessage)
		}
	}
	return nil
}

// NormalizeCode trims and upper-cases a lobby code typed by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DecodeClientMessage parses a raw frame into one of the client message
// variants. Codes come back normalized; usernames are left as sent.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg ClientMessage
	var err error
	switch f.Event {
	case EvtJoinLobby:
		var m JoinLobby
		err = unmarshalData(f.Data, &m)
		m.Code = NormalizeCode(m.Code)
		msg = m
	case EvtLeaveLobby:
		var m LeaveLobby
		err = unmarshalData(f.Data, &m)
		m.Code = NormalizeCode(m.Code)
		msg = m
	case EvtStartGame:
		var m StartGame
		err = unmarshalData(f.Data, &m)
		m.Code = NormalizeCode(m.Code)
		msg = m
	case EvtCastVote:
		var m CastVote
		err = unmarshalData(f.Data, &m)
		m.Code = NormalizeCode(m.Code)
		msg = m
	case EvtRequestSync:
		var m RequestSync
		err = unmarshalData(f.Data, &m)
		m.Code = NormalizeCode(m.Code)
		msg = m
	case EvtRestartGame:
		var m RestartGame
		err = unmarshalData(f.Data, &m)
		m.Code = NormalizeCode(m.Code)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	if err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
