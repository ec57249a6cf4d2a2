package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SuryaSriramD/CodeAgentTool/internal/jobs"
)

const subscriberBuffer = 64

// sseFrame is a ready-to-write SSE frame. final marks a job's finished event.
type sseFrame struct {
	data  []byte
	final bool
}

// Broadcaster fans job events out to the GET /events/{id} subscribers of that
// job. Slow clients lose progress frames but always receive the finished one.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[chan sseFrame]struct{}
	closed bool
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan sseFrame]struct{})}
}

// subscribe returns a channel that receives the frames of jobID. The caller
// must call unsubscribe when the HTTP connection closes. The channel is
// closed when the broadcaster shuts down.
func (b *Broadcaster) subscribe(jobID string) chan sseFrame {
	ch := make(chan sseFrame, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan sseFrame]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	return ch
}

func (b *Broadcaster) unsubscribe(jobID string, ch chan sseFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[jobID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, jobID)
	}
}

// subscribers reports how many clients follow jobID.
func (b *Broadcaster) subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

// send is a jobs.EventCallback.
func (b *Broadcaster) send(evt jobs.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs[evt.JobID]) == 0 {
		return
	}
	data, err := encodeFrame(string(evt.Type), evt)
	if err != nil {
		slog.Warn("gateway: failed to marshal SSE event", "job_id", evt.JobID, "type", evt.Type, "error", err)
		return
	}
	frame := sseFrame{data: data, final: evt.Type == jobs.EventFinished}
	for ch := range b.subs[evt.JobID] {
		select {
		case ch <- frame:
		default:
			if !frame.final {
				continue // slow subscriber, skip this frame
			}
			// Make room for the finished frame by dropping the oldest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// close ends every subscription.
func (b *Broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
}

// encodeFrame renders an SSE frame: "event: <name>\ndata: <json>\n\n".
func encodeFrame(name string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", name, raw), nil
}
