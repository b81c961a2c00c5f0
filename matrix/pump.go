package matrix

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/42wim/matrixcore/id"
)

// pump drives the long-poll GET /events loop (spec.md §4.4) after
// initialSync has completed. Exactly one poll is ever in flight; the
// client's commands (CreateRoom, JoinRoom, ...) run concurrently with it
// since they share nothing but the registries, which are their own locks.
type pump struct {
	c     *Client
	token string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPump(c *Client, token string) *pump {
	ctx, cancel := context.WithCancel(context.Background())

	return &pump{c: c, token: token, ctx: ctx, cancel: cancel}
}

func (p *pump) start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *pump) stop() {
	p.cancel()
	p.wg.Wait()
}

// loop issues one long-poll request at a time, dispatching its chunk in
// order before advancing the stream token (spec.md §4.4's ordering
// invariant), and backs off on transport failure the way matterircd's own
// WsReceiver reconnect loop does with jpillora/backoff.
func (p *pump) loop() {
	defer p.wg.Done()

	b := &backoff.Backoff{
		Min:    p.c.cfg.Backoff,
		Max:    p.c.cfg.Backoff,
		Factor: 1,
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		timeoutMs := strconv.Itoa(int(p.c.cfg.PollTimeout / time.Millisecond))
		query := url.Values{"from": []string{p.token}, "timeout": []string{timeoutMs}}

		reqCtx, cancel := context.WithTimeout(p.ctx, p.c.cfg.PollTimeout+5*time.Second)
		var resp eventsResponse
		err := p.c.transport.Get(reqCtx, "/events", query, &resp)
		cancel()

		if p.ctx.Err() != nil {
			return
		}

		if err != nil {
			logger.Warnf("pump: long-poll failed: %v", err)
			p.c.obs.reportError(err, "transport", "/events", p.token)

			select {
			case <-time.After(b.Duration()):
			case <-p.ctx.Done():
				return
			}

			continue
		}

		b.Reset()

		for i := range resp.Chunk {
			ev := &resp.Chunk[i]

			if p.dedupe(ev.EventID) {
				continue
			}

			traceDumpEvent(ev)

			if err := p.c.dispatcher.Dispatch(ev); err != nil {
				logger.Warnf("pump: dispatch error for %s: %v", ev.Type, err)
			}
		}

		p.token = resp.End
	}
}

// dedupe reports whether eventID has already been dispatched recently,
// recording it if not. Events with no ID (e.g. synthesised presence
// events) are never deduplicated.
func (p *pump) dedupe(eventID id.EventID) bool {
	if eventID == "" {
		return false
	}

	if p.c.dispatchCache.Contains(eventID) {
		return true
	}

	p.c.dispatchCache.Add(eventID, struct{}{})

	return false
}
