package flow

import (
	"context"
	"sync"
	"time"

	"github.com/haven-labs/mindhaven/internal/models"
)

// fakeAI implements genai.ClientInterface with scripted responses. Each call
// to Stream consumes the next script; Complete always returns completeResp.
type fakeAI struct {
	mu            sync.Mutex
	scripts       [][]models.StreamDelta
	streamDelay   time.Duration
	streamErr     error
	completeResp  string
	completeErr   error
	streamCalls   int
	completeCalls int
	streamReqs    []models.CompletionRequest
}

func (f *fakeAI) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return f.completeResp, f.completeErr
}

func (f *fakeAI) Stream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamDelta, error) {
	f.mu.Lock()
	f.streamCalls++
	f.streamReqs = append(f.streamReqs, req)
	var script []models.StreamDelta
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	delay := f.streamDelay
	err := f.streamErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan models.StreamDelta)
	go func() {
		defer close(ch)
		for _, d := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeAI) calls() (stream, complete int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls, f.completeCalls
}

func (f *fakeAI) lastStreamReq() models.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streamReqs) == 0 {
		return models.CompletionRequest{}
	}
	return f.streamReqs[len(f.streamReqs)-1]
}

// testConfig returns a Config with short timeouts suitable for tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReplyTimeout = 2 * time.Second
	cfg.AssessTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 10 * time.Millisecond
	return cfg
}

func textDeltas(fragments ...string) []models.StreamDelta {
	deltas := make([]models.StreamDelta, 0, len(fragments))
	for _, f := range fragments {
		deltas = append(deltas, models.StreamDelta{Text: f})
	}
	return deltas
}
