package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubTracksRegistration(t *testing.T) {
	hub := startHub(t)

	client := NewClient("dash-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	hub.Unregister(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, time.Millisecond)
}

func TestHubBroadcastReachesEveryClient(t *testing.T) {
	hub := startHub(t)

	clients := []*Client{NewClient("a"), NewClient("b"), NewClient("c")}
	for _, c := range clients {
		hub.Register(c)
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 },
		time.Second, time.Millisecond)

	msg := Message{Type: TypeStatus, Data: map[string]interface{}{"exchange": "FMFW"}}
	hub.Broadcast(msg)

	for _, c := range clients {
		select {
		case got := <-c.Recv():
			assert.Equal(t, TypeStatus, got.Type)
		case <-time.After(time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)

	slow := NewClient("slow")
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	// Never read from the client; once its buffer fills, deliveries fail
	// and the hub unregisters it.
	require.Eventually(t, func() bool {
		hub.Broadcast(Message{Type: TypeStatus, Data: "snapshot"})
		return hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := NewClient("dash-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, time.Millisecond)

	// The client channel is closed and later hub calls do not hang.
	_, open := <-client.Recv()
	assert.False(t, open)
	hub.Unregister(client)
	hub.Register(NewClient("late"))
	assert.Equal(t, 0, hub.ClientCount())
}

func TestClientSendAfterCloseFails(t *testing.T) {
	client := NewClient("dash-1")
	require.True(t, client.Send(Message{Type: TypeStatus}))
	client.Close()
	client.Close()
	assert.False(t, client.Send(Message{Type: TypeStatus}))
}

func TestHubConcurrentBroadcasts(t *testing.T) {
	hub := startHub(t)

	client := NewClient("dash-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, time.Millisecond)

	// Drain continuously so the client is never marked slow. The hub may
	// drop messages under this load; the invariant is that it never
	// deadlocks or loses the client.
	var got atomic.Int64
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case _, ok := <-client.Recv():
				if !ok {
					return
				}
				got.Add(1)
			}
		}
	}()
	defer close(stop)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.Broadcast(Message{Type: TypeStatus, Data: fmt.Sprintf("snap-%d-%d", worker, j)})
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return got.Load() > 0 },
		time.Second, time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())
}
