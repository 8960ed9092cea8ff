package hub

import (
	"context"
	"strings"
	"time"

	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
)

// dispatch routes one inbound control message. Every rejected request
// yields exactly one error event, correlated to the operation id when one
// exists; the channel stays open.
func (h *Hub) dispatch(c *Client, msg *protocol.Message) {
	t := msg.Type
	switch {
	case strings.HasPrefix(t, protocol.PrefixSubscribe):
		h.handleSubscribe(c, strings.TrimPrefix(t, protocol.PrefixSubscribe), msg)
	case strings.HasPrefix(t, protocol.PrefixUnsubscribe):
		h.handleUnsubscribe(c, strings.TrimPrefix(t, protocol.PrefixUnsubscribe))
	case strings.HasPrefix(t, protocol.PrefixGet):
		h.handleGet(c, strings.TrimPrefix(t, protocol.PrefixGet), msg)
	case t == protocol.TypeOperationStart:
		h.handleOperationStart(c, msg)
	case t == protocol.TypeOperationCancel:
		h.handleOperationCancel(c, msg)
	case t == protocol.TypeOperationList:
		h.handleOperationList(c, msg)
	case t == protocol.TypeOperationJoin:
		h.handleOperationJoin(c, msg)
	case t == protocol.TypeOperationLeave:
		h.handleOperationLeave(c, msg)
	default:
		c.sendEvent(protocol.TypeError, protocol.ErrorPayload{
			Kind:    string(fault.KindValidation),
			Message: "unknown message type " + t,
		})
	}
}

func (h *Hub) handleSubscribe(c *Client, topic string, msg *protocol.Message) {
	var p protocol.SubscribePayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid subscribe payload"), "")
		return
	}
	user, err := h.auth.Verify(p.Token)
	if err != nil {
		h.sendFault(c, err, "")
		return
	}
	if err := h.scheduler.Subscribe(context.Background(), topic, p.Filters, p.Shaping, c.id, user); err != nil {
		h.sendFault(c, err, "")
	}
}

func (h *Hub) handleUnsubscribe(c *Client, topic string) {
	if err := h.scheduler.Unsubscribe(topic, c.id); err != nil {
		h.sendFault(c, err, "")
	}
}

func (h *Hub) handleGet(c *Client, topic string, msg *protocol.Message) {
	var p protocol.GetPayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid get payload"), "")
		return
	}
	user, err := h.auth.Verify(p.Token)
	if err != nil {
		h.sendFault(c, err, "")
		return
	}
	if err := h.scheduler.GetOnce(context.Background(), topic, p.Filters, p.Shaping, c.id, user); err != nil {
		h.sendFault(c, err, "")
	}
}

func (h *Hub) handleOperationStart(c *Client, msg *protocol.Message) {
	var p protocol.OperationStartPayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid operation-start payload"), "")
		return
	}
	user, err := h.auth.Verify(p.Token)
	if err != nil {
		h.sendFault(c, err, "")
		return
	}

	id, err := h.executor.Start(p.Kind, p.Params, user)
	if err != nil {
		h.sendFault(c, err, "")
		return
	}

	// The initiator joins the room and receives the started status directly:
	// the room broadcast at start time may have preceded the join.
	h.joinOperation(c, id)
	c.sendEvent(protocol.TypeOperationUpdate, protocol.OperationUpdatePayload{
		OperationID: id,
		Status:      protocol.StatusStarted,
		Timestamp:   time.Now(),
	})
}

func (h *Hub) handleOperationCancel(c *Client, msg *protocol.Message) {
	var p protocol.OperationRefPayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid operation-cancel payload"), "")
		return
	}
	user, err := h.auth.Verify(p.Token)
	if err != nil {
		h.sendFault(c, err, p.OperationID)
		return
	}
	if err := h.executor.Cancel(p.OperationID, user); err != nil {
		h.sendFault(c, err, p.OperationID)
	}
}

func (h *Hub) handleOperationList(c *Client, msg *protocol.Message) {
	var p protocol.OperationListPayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid operation-list payload"), "")
		return
	}
	user, err := h.auth.Verify(p.Token)
	if err != nil {
		h.sendFault(c, err, "")
		return
	}
	summaries, err := h.executor.ListActive(user)
	if err != nil {
		h.sendFault(c, err, "")
		return
	}
	c.sendEvent(protocol.TypeOperationListResult, protocol.OperationListResultPayload{Operations: summaries})
}

func (h *Hub) handleOperationJoin(c *Client, msg *protocol.Message) {
	var p protocol.OperationRefPayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid operation-join payload"), "")
		return
	}
	if _, err := h.auth.Verify(p.Token); err != nil {
		h.sendFault(c, err, p.OperationID)
		return
	}
	if !h.executor.Exists(p.OperationID) {
		h.sendFault(c, fault.New(fault.KindNotFound, "unknown operation %q", p.OperationID), p.OperationID)
		return
	}
	h.joinOperation(c, p.OperationID)
}

func (h *Hub) handleOperationLeave(c *Client, msg *protocol.Message) {
	var p protocol.OperationRefPayload
	if err := msg.ParsePayload(&p); err != nil {
		h.sendFault(c, fault.Wrap(fault.KindValidation, err, "invalid operation-leave payload"), "")
		return
	}
	h.leaveOperation(c, p.OperationID)
}

// sendFault maps an error to one protocol error event.
func (h *Hub) sendFault(c *Client, err error, operationID string) {
	kind := fault.KindOf(err)
	if kind == "" {
		h.log.Error().Err(err).Str("client", c.id).Msg("internal error")
		c.sendEvent(protocol.TypeError, protocol.ErrorPayload{Message: "internal error"})
		return
	}
	c.sendEvent(protocol.TypeError, protocol.ErrorPayload{
		Kind:        string(kind),
		Message:     err.Error(),
		OperationID: operationID,
	})
}
