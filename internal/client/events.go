package client

import (
	"github.com/LiquidCake/instantchat/internal/protocol"
	"github.com/LiquidCake/instantchat/internal/ws"
)

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventRoomUpdated
	EventRosterUpdated
	EventMessagesUpdated
	EventActionAck
	EventActionRejected
	EventServerNotice
	EventLimitApproaching
	EventLimitReached
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventRoomUpdated:
		return "room_updated"
	case EventRosterUpdated:
		return "roster_updated"
	case EventMessagesUpdated:
		return "messages_updated"
	case EventActionAck:
		return "action_ack"
	case EventActionRejected:
		return "action_rejected"
	case EventServerNotice:
		return "server_notice"
	case EventLimitApproaching:
		return "limit_approaching"
	case EventLimitReached:
		return "limit_reached"
	case EventFatal:
		return "fatal"
	}
	return "unknown"
}

// Event 状态或数据变化的通知。消费不及时会被丢弃，
// 订阅方应把事件当作"去读最新快照"的信号而非增量。
type Event struct {
	Kind      EventKind
	State     ws.State
	MessageID int64
	Err       error
	Business  *protocol.BusinessError
}
