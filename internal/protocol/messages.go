// Package protocol defines the WebSocket message types shared between the
// backend and its clients.
package protocol

import (
	"encoding/json"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given target.
func (m *Message) ParsePayload(target any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, target)
}

// Message type prefixes and names (client → server). Topic messages are
// "<prefix><topic>", e.g. "subscribe-disks".
const (
	PrefixSubscribe   = "subscribe-"
	PrefixUnsubscribe = "unsubscribe-"
	PrefixGet         = "get-"

	TypeOperationStart  = "operation-start"
	TypeOperationCancel = "operation-cancel"
	TypeOperationList   = "operation-list"
	TypeOperationJoin   = "operation-join"
	TypeOperationLeave  = "operation-leave"
)

// Message type suffixes and names (server → client).
const (
	SuffixUpdate                  = "-update"
	SuffixSubscriptionConfirmed   = "-subscription-confirmed"
	SuffixUnsubscriptionConfirmed = "-unsubscription-confirmed"

	TypeOperationUpdate     = "operation-update"
	TypeOperationListResult = "operation-list-result"
	TypeError               = "error"
)

// Operation statuses carried by operation-update events.
const (
	StatusStarted   = "started"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Filters selects which slice of a topic a subscriber wants.
type Filters struct {
	Devices []string `json:"devices,omitempty"` // device list (disks)
	Name    string   `json:"name,omitempty"`    // single entity name (vms, containers)
}

// ShapingPrefs carries per-client output shaping preferences.
type ShapingPrefs struct {
	Units string `json:"units,omitempty"` // "binary" or "decimal"
}

// SubscribePayload is sent with subscribe-<topic> messages.
type SubscribePayload struct {
	Token    string       `json:"token"`
	Filters  Filters      `json:"filters,omitempty"`
	Interval int          `json:"interval,omitempty"` // advisory, milliseconds
	Shaping  ShapingPrefs `json:"shaping,omitempty"`
}

// GetPayload is sent with get-<topic> messages (one-shot, forced refresh).
type GetPayload struct {
	Token   string       `json:"token"`
	Filters Filters      `json:"filters,omitempty"`
	Shaping ShapingPrefs `json:"shaping,omitempty"`
}

// SubscriptionConfirmedPayload acknowledges a subscription.
type SubscriptionConfirmedPayload struct {
	Intervals map[string]int `json:"intervals"` // sub-key → interval in ms
	Filters   Filters        `json:"filters"`
}

// UpdatePayload carries one topic snapshot, or one sub-keyed slice of it.
type UpdatePayload struct {
	Key       string    `json:"key,omitempty"` // sub-key for partial updates
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a failed request. The channel stays open.
type ErrorPayload struct {
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message"`
	OperationID string `json:"operation_id,omitempty"`
}

// OperationStartPayload begins a long-running operation.
type OperationStartPayload struct {
	Token  string          `json:"token"`
	Kind   string          `json:"kind"` // "image-pull", "container-upgrade", ...
	Params json.RawMessage `json:"params,omitempty"`
}

// OperationRefPayload addresses an existing operation (cancel/join/leave).
type OperationRefPayload struct {
	Token       string `json:"token"`
	OperationID string `json:"operation_id"`
}

// OperationListPayload requests the active operation list.
type OperationListPayload struct {
	Token string `json:"token"`
}

// OperationUpdatePayload streams operation lifecycle and output events.
type OperationUpdatePayload struct {
	OperationID string    `json:"operation_id"`
	Status      string    `json:"status"`
	Output      string    `json:"output,omitempty"`
	Stream      string    `json:"stream,omitempty"` // "stdout" or "stderr"
	Result      string    `json:"result,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OperationSummary describes one non-terminal operation.
type OperationSummary struct {
	OperationID string          `json:"operation_id"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type"` // "managed" or "unmanaged"
	Params      json.RawMessage `json:"params,omitempty"`
	ElapsedMS   int64           `json:"elapsed_ms"`
}

// OperationListResultPayload answers operation-list.
type OperationListResultPayload struct {
	Operations []OperationSummary `json:"operations"`
}
