package hub

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/config"
	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/ops"
	"github.com/helmboard/helmboard/internal/protocol"
	"github.com/helmboard/helmboard/internal/store"
	"github.com/helmboard/helmboard/internal/stream"
)

type testEnv struct {
	hub   *Hub
	auth  *auth.Service
	token string
}

// newTestEnv wires a hub against a real auth service and a one-topic
// scheduler, with no WebSocket connections involved.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.AdminPasswordHash = string(hash)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc, err := auth.NewService(cfg, db)
	if err != nil {
		t.Fatalf("Failed to create auth service: %v", err)
	}

	h := NewHub(zerolog.Nop(), svc)

	topic := &stream.Topic{
		ID:        "stats",
		Intervals: map[string]time.Duration{stream.DefaultKey: time.Hour},
		Provider: func(context.Context, string, protocol.Filters, stream.Shaping) (any, error) {
			return map[string]int{"n": 1}, nil
		},
	}
	scheduler := stream.NewScheduler(zerolog.Nop(), []*stream.Topic{topic}, stream.NewRegistry(), stream.NewCache(0), h)
	t.Cleanup(scheduler.Close)

	executor := ops.NewExecutor(zerolog.Nop(), h, nil, nil, "/nonexistent/docker", time.Second)
	h.Attach(scheduler, executor)

	session, err := svc.Login("admin", "pass", "", "127.0.0.1")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}

	return &testEnv{hub: h, auth: svc, token: session.Token}
}

// newClient registers a connection-less client directly with the hub.
func (env *testEnv) newClient(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, 64), hub: env.hub}
	env.hub.mu.Lock()
	env.hub.clients[id] = c
	env.hub.mu.Unlock()
	return c
}

func (env *testEnv) dispatch(t *testing.T, c *Client, msgType, payload string) {
	t.Helper()
	msg := &protocol.Message{Type: msgType, Payload: json.RawMessage(payload)}
	env.hub.dispatch(c, msg)
}

func readEvent(t *testing.T, c *Client) *protocol.Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		return &msg
	case <-time.After(5 * time.Second):
		t.Fatal("No event received")
		return nil
	}
}

func readError(t *testing.T, c *Client) protocol.ErrorPayload {
	t.Helper()
	msg := readEvent(t, c)
	if msg.Type != protocol.TypeError {
		t.Fatalf("Expected error event, got %q", msg.Type)
	}
	var ep protocol.ErrorPayload
	if err := msg.ParsePayload(&ep); err != nil {
		t.Fatalf("Failed to parse error payload: %v", err)
	}
	return ep
}

func TestDispatch_UnknownType(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, "self-destruct", `{}`)

	ep := readError(t, c)
	if ep.Kind != string(fault.KindValidation) {
		t.Errorf("Expected validation kind, got %q", ep.Kind)
	}
}

func TestDispatch_SubscribeRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, "subscribe-stats", `{}`)

	ep := readError(t, c)
	if ep.Kind != string(fault.KindAuth) {
		t.Errorf("Expected auth kind, got %q", ep.Kind)
	}
}

func TestDispatch_SubscribeFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, "subscribe-stats", `{"token":"`+env.token+`"}`)

	confirm := readEvent(t, c)
	if confirm.Type != "stats"+protocol.SuffixSubscriptionConfirmed {
		t.Fatalf("Expected subscription confirmation, got %q", confirm.Type)
	}
	var cp protocol.SubscriptionConfirmedPayload
	if err := confirm.ParsePayload(&cp); err != nil {
		t.Fatalf("Failed to parse confirmation: %v", err)
	}
	if cp.Intervals[""] != int(time.Hour/time.Millisecond) {
		t.Errorf("Unexpected intervals %v", cp.Intervals)
	}

	update := readEvent(t, c)
	if update.Type != "stats"+protocol.SuffixUpdate {
		t.Fatalf("Expected initial snapshot, got %q", update.Type)
	}

	env.dispatch(t, c, "unsubscribe-stats", `{}`)
	bye := readEvent(t, c)
	if bye.Type != "stats"+protocol.SuffixUnsubscriptionConfirmed {
		t.Errorf("Expected unsubscription confirmation, got %q", bye.Type)
	}
}

func TestDispatch_SubscribeUnknownTopic(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, "subscribe-nonsense", `{"token":"`+env.token+`"}`)

	ep := readError(t, c)
	if ep.Kind != string(fault.KindNotFound) {
		t.Errorf("Expected not_found kind, got %q", ep.Kind)
	}
}

func TestDispatch_GetOneShot(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, "get-stats", `{"token":"`+env.token+`"}`)

	update := readEvent(t, c)
	if update.Type != "stats"+protocol.SuffixUpdate {
		t.Fatalf("Expected one-shot update, got %q", update.Type)
	}
}

func TestDispatch_MalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, protocol.TypeOperationStart, `{"token":`)

	ep := readError(t, c)
	if ep.Kind != string(fault.KindValidation) {
		t.Errorf("Expected validation kind, got %q", ep.Kind)
	}
}

func TestDispatch_OperationStartUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, protocol.TypeOperationStart, `{"token":"`+env.token+`","kind":"nonsense"}`)

	ep := readError(t, c)
	if ep.Kind != string(fault.KindValidation) {
		t.Errorf("Expected validation kind, got %q", ep.Kind)
	}
}

func TestDispatch_OperationStartJoinsInitiator(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, protocol.TypeOperationStart,
		`{"token":"`+env.token+`","kind":"image-pull","params":{"image":"nginx:latest"}}`)

	// The initiator gets a direct started event with the assigned id.
	var started protocol.OperationUpdatePayload
	for {
		msg := readEvent(t, c)
		if msg.Type != protocol.TypeOperationUpdate {
			t.Fatalf("Expected operation update, got %q", msg.Type)
		}
		if err := msg.ParsePayload(&started); err != nil {
			t.Fatalf("Failed to parse update: %v", err)
		}
		if started.Status == protocol.StatusStarted {
			break
		}
	}
	if started.OperationID == "" {
		t.Fatal("Expected an operation id")
	}

	// The initiator was placed in the operation's room for the output
	// stream. The terminal broadcast itself may race the join, so only
	// membership is asserted here.
	env.hub.mu.RLock()
	_, member := env.hub.opRooms[started.OperationID]["c1"]
	env.hub.mu.RUnlock()
	if !member {
		t.Error("Expected the initiator to join the operation room")
	}
}

func TestDispatch_OperationJoinUnknownID(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, protocol.TypeOperationJoin, `{"token":"`+env.token+`","operation_id":"ghost"}`)

	ep := readError(t, c)
	if ep.Kind != string(fault.KindNotFound) {
		t.Errorf("Expected not_found kind, got %q", ep.Kind)
	}
	if ep.OperationID != "ghost" {
		t.Errorf("Expected error to reference the operation id, got %q", ep.OperationID)
	}
}

func TestDispatch_OperationList(t *testing.T) {
	env := newTestEnv(t)
	c := env.newClient("c1")

	env.dispatch(t, c, protocol.TypeOperationList, `{"token":"`+env.token+`"}`)

	msg := readEvent(t, c)
	if msg.Type != protocol.TypeOperationListResult {
		t.Fatalf("Expected list result, got %q", msg.Type)
	}
	var lr protocol.OperationListResultPayload
	if err := msg.ParsePayload(&lr); err != nil {
		t.Fatalf("Failed to parse list result: %v", err)
	}
	if len(lr.Operations) != 0 {
		t.Errorf("Expected no active operations, got %d", len(lr.Operations))
	}
}
