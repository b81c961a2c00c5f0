package matrix

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Paginate fetches and folds the next page of a room's history backward
// (spec.md §4.3.6). The first call lazily seeds the backward projection
// from the current forward one; subsequent calls continue from the
// server's returned pagination token. Once a fold sees m.room.create, the
// token is pinned to the sentinel "START" and every later call returns
// ErrPaginationExhausted without issuing a request.
func (r *Room) Paginate(ctx context.Context, limit int) error {
	r.backMu.Lock()
	exhausted := r.PaginationToken == "START"
	r.backMu.Unlock()

	if exhausted {
		return ErrPaginationExhausted
	}

	r.ensureBackward()

	if limit <= 0 {
		limit = r.client.cfg.PaginationLimit
	}

	from := r.PaginationToken
	if from == "" {
		from = "END"
	}

	query := url.Values{
		"from":  []string{from},
		"dir":   []string{"b"},
		"limit": []string{strconv.Itoa(limit)},
	}

	var resp messagesResponse
	path := fmt.Sprintf("/rooms/%s/messages", url.PathEscape(string(r.ID)))
	if err := r.client.transport.Get(ctx, path, query, &resp); err != nil {
		return err
	}

	reachedCreate := false

	for i := range resp.Chunk {
		ev := &resp.Chunk[i]
		ev.RoomID = r.ID

		if ev.Type == typeRoomCreate {
			reachedCreate = true
		}

		if err := r.fold(ev, Backward, false, r.client.roomObs); err != nil {
			logger.Warnf("room %s: paginate fold error: %v", r.ID, err)
		}
	}

	r.backMu.Lock()
	if reachedCreate {
		r.PaginationToken = "START"
	} else {
		r.PaginationToken = resp.End
	}
	r.backMu.Unlock()

	return nil
}
