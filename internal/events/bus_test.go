//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("start redis: %v", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint, func() { container.Terminate(ctx) }
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	url, cleanup := startRedis(ctx, t)
	defer cleanup()

	bus, err := NewBus(url, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := bus.Subscribe(subCtx)

	// Give the XRead loop a moment to park on the stream tail.
	time.Sleep(200 * time.Millisecond)

	sent := &Event{
		JobID:   "job-1",
		TeamID:  "team-default",
		Event:   "progress",
		Status:  "running",
		Phase:   "running-members",
		Current: 1,
		Total:   3,
	}
	if err := bus.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.JobID != "job-1" || got.Event != "progress" || got.Current != 1 {
			t.Errorf("got %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Error("publish must stamp the event")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no event received")
	}
}

func TestBusPublishOrder(t *testing.T) {
	ctx := context.Background()
	url, cleanup := startRedis(ctx, t)
	defer cleanup()

	bus, err := NewBus(url, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := bus.Subscribe(subCtx)
	time.Sleep(200 * time.Millisecond)

	for _, ev := range []string{"created", "progress", "completed"} {
		if err := bus.Publish(ctx, &Event{JobID: "job-2", Event: ev}); err != nil {
			t.Fatalf("Publish %s: %v", ev, err)
		}
	}

	var got []string
	deadline := time.After(10 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev.Event)
		case <-deadline:
			t.Fatalf("received %v before timeout", got)
		}
	}
	for i, want := range []string{"created", "progress", "completed"} {
		if got[i] != want {
			t.Fatalf("order %v, want created, progress, completed", got)
		}
	}
}

func TestBusBadURL(t *testing.T) {
	if _, err := NewBus("not-a-url", zap.NewNop()); err == nil {
		t.Fatal("expected parse error")
	}
}
