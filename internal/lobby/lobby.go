package lobby

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/choco0031/thisorthat/pkg/types"
)

const MinUsernameLen = 2

// NormalizeUsername trims surrounding space and puts the name in NFC so two
// visually identical names map to the same participant. Case is preserved.
func NormalizeUsername(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// ValidUsername checks a name as typed, before normalization. Surrounding
// space counts toward the length but the name may not be blank.
func ValidUsername(raw string) bool {
	return utf8.RuneCountInString(raw) >= MinUsernameLen && NormalizeUsername(raw) != ""
}

// Lobby is the roster of one session. It carries no locking: the hub is
// its only writer.
type Lobby struct {
	Code        string
	Host        string
	CreatedAt   time.Time
	GameStarted bool

	participants []*types.Participant
}

// New creates a lobby whose first participant is its host.
func New(code, host string, now time.Time) *Lobby {
	return &Lobby{
		Code:      code,
		Host:      host,
		CreatedAt: now,
		participants: []*types.Participant{
			{Username: host, IsHost: true, Connected: true},
		},
	}
}

func (l *Lobby) Find(username string) *types.Participant {
	for _, p := range l.participants {
		if p.Username == username {
			return p
		}
	}
	return nil
}

// Add appends a connected, non-host participant. An existing entry is
// returned untouched with added=false.
func (l *Lobby) Add(username string) (p *types.Participant, added bool) {
	if p := l.Find(username); p != nil {
		return p, false
	}
	p = &types.Participant{Username: username, Connected: true}
	l.participants = append(l.participants, p)
	return p, true
}

// Remove drops username from the roster and reports whether it was there.
func (l *Lobby) Remove(username string) bool {
	before := len(l.participants)
	l.participants = slices.DeleteFunc(l.participants, func(p *types.Participant) bool {
		return p.Username == username
	})
	return len(l.participants) != before
}

func (l *Lobby) SetConnected(username string, connected bool) bool {
	p := l.Find(username)
	if p == nil {
		return false
	}
	p.Connected = connected
	return true
}

func (l *Lobby) IsHost(username string) bool { return l.Host == username }

func (l *Lobby) Len() int { return len(l.participants) }

func (l *Lobby) Empty() bool { return len(l.participants) == 0 }

// Usernames lists every participant in join order.
func (l *Lobby) Usernames() []string {
	out := make([]string, 0, len(l.participants))
	for _, p := range l.participants {
		out = append(out, p.Username)
	}
	return out
}

// Connected lists participants whose connection flag is set, in join order.
func (l *Lobby) Connected() []string {
	out := make([]string, 0, len(l.participants))
	for _, p := range l.participants {
		if p.Connected {
			out = append(out, p.Username)
		}
	}
	return out
}

// View copies the lobby into its wire form.
func (l *Lobby) View() types.LobbyView {
	ps := make([]types.Participant, 0, len(l.participants))
	for _, p := range l.participants {
		ps = append(ps, *p)
	}
	return types.LobbyView{
		Code:         l.Code,
		Host:         l.Host,
		Participants: ps,
		CreatedAt:    l.CreatedAt,
		GameStarted:  l.GameStarted,
	}
}
