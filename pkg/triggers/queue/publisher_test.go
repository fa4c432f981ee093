package queue

import (
	"context"
	"sync"

	"github.com/Bojackxiang/n8n-demo/pkg/eventbus"
	"github.com/Bojackxiang/n8n-demo/pkg/events"
)

type recordingPublisher struct {
	mu       sync.Mutex
	requests []*events.RunRequested
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req, ok := event.(*events.RunRequested); ok {
		p.requests = append(p.requests, req)
	}

	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.requests)
}

func (p *recordingPublisher) first() *events.RunRequested {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.requests[0]
}
