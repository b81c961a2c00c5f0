package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
)

// fakeTransport is the in-process Transport double every test in this
// package drives instead of a real home server: responses are queued per
// method+path and popped in FIFO order, the same "script the wire, assert
// on the callback" shape testify gives the mmservice table tests.
type fakeTransport struct {
	mu    sync.Mutex
	queue map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{queue: make(map[string][][]byte)}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}

// enqueue schedules body as the next response for method+path, ignoring
// any query string.
func (f *fakeTransport) enqueue(method, path string, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := method + " " + path
	f.queue[key] = append(f.queue[key], mustMarshal(body))
}

func (f *fakeTransport) do(method, path string, out any) error {
	f.mu.Lock()
	key := method + " " + path
	q := f.queue[key]

	if len(q) == 0 {
		f.mu.Unlock()
		return fmt.Errorf("fakeTransport: no queued response for %s", key)
	}

	body := q[0]
	f.queue[key] = q[1:]
	f.mu.Unlock()

	if out == nil || len(body) == 0 || string(body) == "null" {
		return nil
	}

	return json.Unmarshal(body, out)
}

func (f *fakeTransport) Get(_ context.Context, path string, _ url.Values, out any) error {
	return f.do("GET", path, out)
}

func (f *fakeTransport) Put(_ context.Context, path string, _, out any) error {
	return f.do("PUT", path, out)
}

func (f *fakeTransport) Post(_ context.Context, path string, _, out any) error {
	return f.do("POST", path, out)
}

func (f *fakeTransport) Delete(_ context.Context, path string) error {
	return f.do("DELETE", path, nil)
}
