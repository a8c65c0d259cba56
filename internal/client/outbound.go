package client

import (
	"strings"
	"time"

	"github.com/LiquidCake/instantchat/internal/protocol"
	"github.com/LiquidCake/instantchat/internal/ws"
)

// actionTracker 跟踪唯一一个在途的用户动作。新动作直接顶替
// 未回执的旧动作，旧标签的回执随后到达时不再匹配。
type actionTracker struct {
	seq      uint64
	tag      string
	inFlight bool
	sentAt   time.Time
}

func (t *actionTracker) busy() bool { return t.inFlight }

func (t *actionTracker) begin() string {
	t.seq++
	t.tag = protocol.UserActionTag(t.seq)
	t.inFlight = true
	t.sentAt = time.Now()
	return t.tag
}

// complete 标签匹配时结束在途动作。
func (t *actionTracker) complete(tag string) bool {
	if !t.inFlight || t.tag != tag {
		return false
	}
	t.inFlight = false
	t.tag = ""
	return true
}

func (t *actionTracker) reset() {
	t.inFlight = false
	t.tag = ""
}

// sendAction 用户动作的统一出口：状态与限速检查通过后带标签
// 发出，并顶替任何尚未回执的旧动作。失败是同步的，不产生
// 任何状态残留。
func (c *RoomClient) sendAction(frame protocol.OutFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if c.state != ws.StateSynced || c.conn == nil {
		return ErrNotJoined
	}
	if !c.limiter.allow(string(frame.Command)) {
		return ErrRateLimited
	}
	frame.RequestID = c.tracker.begin()
	if err := c.conn.Send(frame); err != nil {
		c.tracker.reset()
		return err
	}
	return nil
}

// SendMessage 发送文本消息。
func (c *RoomClient) SendMessage(text string) error {
	return c.sendText(text, 0)
}

// ReplyToMessage 回复指定消息，引用目标的作者与 ID 随帧带出。
func (c *RoomClient) ReplyToMessage(targetID int64, text string) error {
	return c.sendText(text, targetID)
}

func (c *RoomClient) sendText(text string, replyTo int64) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len([]rune(text)) > protocol.MaxTextMessageLength {
		return ErrMessageTooLong
	}
	payload := &protocol.MessagePayload{Text: protocol.EncodeText(text)}
	if replyTo != 0 {
		target, ok := c.store.Message(replyTo)
		if !ok {
			return ErrUnknownMessage
		}
		payload.ReplyToMessageID = target.ID
		payload.ReplyToUserID = target.AuthorUserID
	}
	return c.sendAction(protocol.OutFrame{Command: protocol.TextMessage, Message: payload})
}

// SendDrawing 以画板消息发送一张已上传的画作。
func (c *RoomClient) SendDrawing(name string) error {
	if name == "" {
		return ErrEmptyMessage
	}
	payload := &protocol.MessagePayload{
		Text: protocol.EncodeText(protocol.DrawingMetaMarker + name),
	}
	return c.sendAction(protocol.OutFrame{Command: protocol.UserDrawingMessage, Message: payload})
}

// EditMessage 编辑自己的消息。
func (c *RoomClient) EditMessage(id int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len([]rune(text)) > protocol.MaxTextMessageLength {
		return ErrMessageTooLong
	}
	m, ok := c.store.Message(id)
	if !ok {
		return ErrUnknownMessage
	}
	if m.AuthorUserID != c.store.SelfUserID() {
		return ErrNotOwnMessage
	}
	payload := &protocol.MessagePayload{ID: id, Text: protocol.EncodeText(text)}
	return c.sendAction(protocol.OutFrame{Command: protocol.TextMessageEdit, Message: payload})
}

// DeleteMessage 删除消息。普通成员只能删自己的，房主可删任意。
func (c *RoomClient) DeleteMessage(id int64) error {
	m, ok := c.store.Message(id)
	if !ok {
		return ErrUnknownMessage
	}
	self := c.store.SelfUserID()
	creator := c.store.Room().CreatorUserID
	if m.AuthorUserID != self && (creator == "" || self != creator) {
		return ErrNotOwnMessage
	}
	return c.sendAction(protocol.OutFrame{
		Command: protocol.TextMessageDelete,
		Message: &protocol.MessagePayload{ID: id},
	})
}

// VoteMessage 支持或反对一条消息。
func (c *RoomClient) VoteMessage(id int64, support bool) error {
	if _, ok := c.store.Message(id); !ok {
		return ErrUnknownMessage
	}
	return c.sendAction(protocol.OutFrame{
		Command:         protocol.TextMessageSupportOrReject,
		SupportOrReject: support,
		Message:         &protocol.MessagePayload{ID: id},
	})
}

// ChangeDescription 修改房间描述，仅房主可用。
func (c *RoomClient) ChangeDescription(desc string) error {
	if len([]rune(desc)) > protocol.MaxRoomDescriptionLength {
		return ErrDescriptionTooLong
	}
	self := c.store.SelfUserID()
	creator := c.store.Room().CreatorUserID
	if creator == "" || self != creator {
		return ErrNotRoomCreator
	}
	return c.sendAction(protocol.OutFrame{
		Command: protocol.RoomChangeDescription,
		Message: &protocol.MessagePayload{Text: protocol.EncodeText(desc)},
	})
}

// ChangeUserName 改名。确认体现在随后的成员快照里。
func (c *RoomClient) ChangeUserName(name string) error {
	if err := validateUserName(name); err != nil {
		return err
	}
	return c.sendAction(protocol.OutFrame{
		Command:  protocol.RoomChangeUserName,
		UserName: name,
	})
}
