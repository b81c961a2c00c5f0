package matrix

import "strings"

// HandlerFunc processes one event once the dispatcher has resolved its
// type to a registered prefix. suffix holds the dotted-type parts past
// the matched prefix, e.g. dispatching "m.foo.bar.baz" against a
// registered "m.foo" handler passes suffix = []string{"bar", "baz"}
// (spec.md §4.2 rule 1).
type HandlerFunc func(ev *Event, suffix []string) error

// Dispatcher resolves a generic event's dotted type to the longest
// matching registered prefix and invokes its handler, per spec.md §4.2.
// It is deliberately a plain map keyed by the joined dotted prefix rather
// than a reflective method-name lookup (spec.md §9's first design note).
type Dispatcher struct {
	handlers map[string]HandlerFunc
	notFound func(ev *Event)
}

// NewDispatcher builds an empty Dispatcher. notFound is invoked for an
// event whose type matches no registered prefix at all (spec.md §4.2
// rule 4); it may be nil, in which case unmatched events are only logged.
func NewDispatcher(notFound func(ev *Event)) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		notFound: notFound,
	}
}

// Register binds prefix (a dotted event-type prefix, e.g. "m.room" or
// "m.presence") to fn.
func (d *Dispatcher) Register(prefix string, fn HandlerFunc) {
	d.handlers[prefix] = fn
}

// Dispatch routes ev to the handler registered for the longest prefix of
// ev.Type, passing any unmatched trailing parts as suffix. Dispatch is
// synchronous relative to its caller (spec.md §5): it returns only after
// the handler itself returns, though a handler may fire off further async
// work of its own.
func (d *Dispatcher) Dispatch(ev *Event) error {
	parts := strings.Split(ev.Type, ".")

	for i := len(parts); i >= 1; i-- {
		key := strings.Join(parts[:i], ".")

		fn, ok := d.handlers[key]
		if !ok {
			continue
		}

		return fn(ev, parts[i:])
	}

	if d.notFound != nil {
		d.notFound(ev)
	} else {
		logger.Warnf("dispatcher: no handler for event type %q", ev.Type)
	}

	return nil
}
