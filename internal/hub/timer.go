package hub

import (
	"time"

	"github.com/choco0031/thisorthat/internal/engine"
)

// AfterFunc arms f to run once after d and returns its stop function.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// timerFired is posted by a session's timer goroutine. It only acts if gen
// is still the slot's current generation.
type timerFired struct {
	code string
	gen  uint64
	step engine.Step
}

func (timerFired) isHubMsg() {}

// slot is the single timer of one session. Arming it invalidates whatever
// was armed before, even if that timer already fired and its message is
// queued.
type slot struct {
	h    *Hub
	code string
	gen  uint64
	stop func() bool
}

func (s *slot) Schedule(d time.Duration, step engine.Step) {
	s.Cancel()
	s.gen = s.h.nextGen()
	gen, code := s.gen, s.code
	s.stop = s.h.afterFunc(d, func() {
		s.h.post(timerFired{code: code, gen: gen, step: step})
	})
}

func (s *slot) Cancel() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.gen = 0
}

func (h *Hub) nextGen() uint64 {
	h.gen++
	return h.gen
}

func (h *Hub) onTimer(msg timerFired) {
	s := h.sessions[msg.code]
	if s == nil || s.round == nil || s.timer.gen != msg.gen {
		h.log.Debug("stale timer dropped", zapCode(msg.code), zapStep(msg.step))
		return
	}
	s.timer.gen = 0
	s.timer.stop = nil
	s.round.Fire(msg.step)
}
