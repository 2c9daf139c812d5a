package intake

import (
	"go.uber.org/zap"

	"tempmail/disposable/internal/monitoring"
)

// State 是一次投递会话所处的阶段。
type State string

const (
	StateOpened      State = "opened"
	StateReceiving   State = "receiving"
	StateParsed      State = "parsed"
	StateRouted      State = "routed"
	StateParseFailed State = "parse_failed"
	StateClosed      State = "closed"
)

// transitions 列出合法的状态迁移。
var transitions = map[State][]State{
	StateOpened:      {StateReceiving, StateParsed, StateClosed},
	StateReceiving:   {StateParsed, StateParseFailed},
	StateParsed:      {StateRouted, StateClosed},
	StateRouted:      {StateClosed},
	StateParseFailed: {StateClosed},
}

// session 跟踪单次投递的状态，非法迁移只记录日志不 panic。
type session struct {
	id      string
	state   State
	log     *zap.Logger
	metrics *monitoring.Metrics
}

func newSession(id string, log *zap.Logger, metrics *monitoring.Metrics) *session {
	s := &session{
		id:      id,
		state:   StateOpened,
		log:     log.With(zap.String("session", id)),
		metrics: metrics,
	}
	s.log.Debug("intake state", zap.String("state", string(StateOpened)))
	metrics.RecordIntakeState(string(StateOpened))
	return s
}

func (s *session) to(next State) {
	if !allowed(s.state, next) {
		s.log.Warn("unexpected intake transition",
			zap.String("from", string(s.state)),
			zap.String("to", string(next)),
		)
	}
	s.state = next
	s.log.Debug("intake state", zap.String("state", string(next)))
	s.metrics.RecordIntakeState(string(next))
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
