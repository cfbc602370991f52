package xbroker

import (
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("description", e.Description),
		xlog.Str("host", e.HostAddress),
	)
	switch e.Type {
	case Error:
		ev.Warn().Err(e.Err).Msg("xbroker event")
	case ConnectionShutdown:
		ev.With(
			xlog.Str("reply_code", strconv.Itoa(e.Code)),
			xlog.Str("reply_text", e.Text),
		).Warn().Err(e.Err).Msg("xbroker event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xbroker event")
	}
}

// observers is a copy-on-notify observer list shared by Host and ConnectionContext.
type observers struct {
	mu   sync.RWMutex
	list []Observer
	pool *ObserverPool
}

func (o *observers) add(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
}

func (o *observers) remove(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, x := range o.list {
		if x == obs {
			o.list = append(o.list[:i], o.list[i+1:]...)
			break
		}
	}
}

func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.list) == 0 {
		return nil
	}
	out := make([]Observer, len(o.list))
	copy(out, o.list)
	return out
}

// notify dispatches through the pool when one is attached, inline otherwise.
func (o *observers) notify(e Event) {
	obs := o.snapshot()
	if len(obs) == 0 {
		return
	}
	if o.pool != nil && !o.pool.closed.Load() {
		o.pool.Notify(e, obs)
		return
	}
	for _, x := range obs {
		x.OnEvent(e)
	}
}
