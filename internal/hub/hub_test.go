package hub

import (
	"sync"
	"testing"

	"github.com/helmboard/helmboard/internal/protocol"
)

// Broadcasts arrive on scheduler and executor goroutines while the hub's
// run loop tears clients down; a disconnect racing a broadcast must never
// send on the closed channel and bring the process down.
func TestPublish_DisconnectRace(t *testing.T) {
	env := newTestEnv(t)
	go env.hub.Run()

	for i := 0; i < 20; i++ {
		c := env.newClient("c1")
		env.hub.joinOperation(c, "op-1")

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					env.hub.Publish("c1", protocol.TypeError, protocol.ErrorPayload{Message: "tick"})
					env.hub.BroadcastOperation("op-1", protocol.TypeOperationUpdate, protocol.OperationUpdatePayload{
						OperationID: "op-1",
						Status:      protocol.StatusRunning,
						Output:      "line",
					})
				}
			}()
		}

		env.hub.unregister <- c
		wg.Wait()
	}
}
