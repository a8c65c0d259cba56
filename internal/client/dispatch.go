package client

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LiquidCake/instantchat/internal/metrics"
	"github.com/LiquidCake/instantchat/internal/models"
	"github.com/LiquidCake/instantchat/internal/protocol"
	"github.com/LiquidCake/instantchat/internal/ws"
)

// handleFrame 入站指令分发。同一时刻只有连接读协程调用，
// 但与对外接口共享会话状态，整体持锁。
func (c *RoomClient) handleFrame(f protocol.InFrame) {
	metrics.CommandsTotal.WithLabelValues(string(f.Command)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch f.Command {
	case protocol.RequestProcessed:
		c.handleRequestProcessed(f)
	case protocol.Error:
		c.handleServerError(f)
	case protocol.TextMessage, protocol.UserDrawingMessage:
		c.handleTextMessage(f)
	case protocol.TextMessageEdit:
		c.handleEdit(f)
	case protocol.TextMessageDelete:
		c.handleDelete(f)
	case protocol.TextMessageSupportOrReject:
		c.handleVote(f)
	case protocol.AllTextMessages:
		c.handleResync(f)
	case protocol.RoomMembersChanged:
		c.handleRoster(f)
	case protocol.RoomChangeDescription:
		c.handleDescription(f)
	case protocol.NotifyMessagesLimitApproaching:
		c.emit(Event{Kind: EventLimitApproaching})
	case protocol.NotifyMessagesLimitReached:
		c.emit(Event{Kind: EventLimitReached})
	default:
		log.Debug().Str("command", string(f.Command)).Msg("ignoring unknown command")
	}
}

// handleRequestProcessed 入房确认或本端动作的回执。
func (c *RoomClient) handleRequestProcessed(f protocol.InFrame) {
	if f.RequestID == nil {
		return
	}
	tag := *f.RequestID

	if tag == protocol.JoinRequestTag {
		// 线路是至少一次投递，入房确认可能重复到达。
		// 已同步时整帧忽略，避免重复的状态事件与心跳协程。
		if c.state == ws.StateSynced {
			return
		}

		// 前后端版本不一致是终态：继续跑只会产出错误数据。
		if f.BuildNumber != nil && *f.BuildNumber != c.cfg.BuildNumber {
			log.Error().Str("server_build", *f.BuildNumber).Str("client_build", c.cfg.BuildNumber).
				Msg("build number mismatch")
			c.state = ws.StateVersionMismatch
			c.emit(Event{Kind: EventStateChanged, State: c.state})
			c.emit(Event{Kind: EventFatal, Err: ErrVersionMismatch})
			c.shutdownLocked()
			return
		}

		room := models.Room{Name: c.room.Name}
		if f.RoomUUID != nil {
			room.ID = *f.RoomUUID
		}
		if f.ProcessingDetails != nil {
			_, hasPassword := protocol.ParseProcessingDetails(*f.ProcessingDetails)
			room.HasPassword = hasPassword
		}
		if f.CreatedAt != nil {
			room.JoinedAt = time.UnixMilli(protocol.MillisFromNanos(*f.CreatedAt))
		}
		c.store.SetRoom(room)
		if f.UserInRoomUUID != nil {
			c.store.SetSelfUserID(*f.UserInRoomUUID)
		}

		c.state = ws.StateSynced
		c.everSynced = true
		c.attempt = 0
		c.emit(Event{Kind: EventStateChanged, State: ws.StateSynced})
		c.emit(Event{Kind: EventRoomUpdated})

		// 入房前排队的描述变更按到达顺序回放。
		queued := c.queuedDescriptions
		c.queuedDescriptions = nil
		for _, df := range queued {
			c.handleDescription(df)
		}

		if c.conn != nil {
			go c.keepAlive(c.conn)
		}
		return
	}

	if strings.HasPrefix(tag, protocol.UserActionTagPrefix) {
		if c.tracker.complete(tag) {
			c.emit(Event{Kind: EventActionAck})
		}
	}
}

// handleServerError 业务错误。重复会话是终态；尚未入房时的
// 错误意味着入房失败，会话就此结束。
func (c *RoomClient) handleServerError(f protocol.InFrame) {
	be, ok := protocol.BusinessErrorFromFrame(&f)
	if !ok {
		log.Warn().Msg("error frame without code")
		return
	}
	// 密码错误时服务端附带可用的备选房间名后缀。
	if be.Code == protocol.CodeInvalidPassword && f.ProcessingDetails != nil {
		be.AlternativeNamePostfixes = strings.Split(*f.ProcessingDetails, ";")
	}

	if be.Code == protocol.CodeUserDuplication {
		c.state = ws.StateDuplicateSession
		c.emit(Event{Kind: EventStateChanged, State: c.state})
		c.emit(Event{Kind: EventFatal, Business: &be, Err: &be})
		c.shutdownLocked()
		return
	}

	if c.state != ws.StateSynced {
		c.emit(Event{Kind: EventFatal, Business: &be, Err: &be})
		c.shutdownLocked()
		return
	}

	if f.RequestID != nil && c.tracker.complete(*f.RequestID) {
		c.emit(Event{Kind: EventActionRejected, Business: &be, Err: &be})
		return
	}
	c.emit(Event{Kind: EventServerNotice, Business: &be, Err: &be})
}

// handleTextMessage 普通消息与画板消息共用一条路径。
func (c *RoomClient) handleTextMessage(f protocol.InFrame) {
	dto, ok := f.FirstMessage()
	if !ok || dto.ID == nil {
		return
	}
	id := *dto.ID

	// 已删除消息的迟到本体不再复活，连带丢弃其暂存指令。
	if c.store.IsDeleted(id) {
		c.pend.drop(id)
		return
	}

	m := c.messageFromDTO(dto, 0)
	if !c.store.Insert(m) {
		metrics.StaleDropsTotal.WithLabelValues(string(f.Command)).Inc()
		return
	}
	c.replayPending(id)
	c.emit(Event{Kind: EventMessagesUpdated, MessageID: id})
}

// messageFromDTO 把线路载荷转成本地消息。defaultWatermark 用于
// 全量同步：快照未带编辑/投票时间时以同步时刻为基准水位线。
func (c *RoomClient) messageFromDTO(dto protocol.MessageDTO, defaultWatermark int64) models.Message {
	m := models.Message{ID: *dto.ID}
	if dto.Text != nil {
		m.Text = protocol.DecodeText(*dto.Text)
	}
	if strings.HasPrefix(m.Text, protocol.DrawingMetaMarker) {
		m.IsDrawing = true
		m.DrawingName = strings.TrimPrefix(m.Text, protocol.DrawingMetaMarker)
	}
	if dto.UserInRoomUUID != nil {
		m.AuthorUserID = *dto.UserInRoomUUID
	}
	if dto.CreatedAtSec != nil {
		m.CreatedAtSec = *dto.CreatedAtSec
	}
	if dto.SupportedCount != nil {
		m.SupportCount = *dto.SupportedCount
	}
	if dto.RejectedCount != nil {
		m.RejectCount = *dto.RejectedCount
	}
	m.EditedAt = defaultWatermark
	m.VotedAt = defaultWatermark
	if dto.LastEditedAt != nil {
		m.EditedAt = *dto.LastEditedAt
		m.WasEdited = *dto.LastEditedAt > defaultWatermark
	}
	if dto.LastVotedAt != nil {
		m.VotedAt = *dto.LastVotedAt
	}
	if dto.ReplyToMessageID != nil && *dto.ReplyToMessageID > 0 {
		m.ReplyToMessageID = *dto.ReplyToMessageID
		if dto.ReplyToUserID != nil {
			m.ReplyToUserID = *dto.ReplyToUserID
		}
		if target, ok := c.store.Message(m.ReplyToMessageID); ok {
			m.ReplyToUserName = target.AuthorName
			m.ReplyToMessageText = models.ReplyPreview(target.Text)
		} else {
			// 被引用消息尚未到达（或已不可得），先挂占位预览。
			m.ReplyToMessageText = protocol.MessageUnavailableText
		}
	}
	return m
}

// replayPending 消息本体落地后按到达顺序回放它攒下的乱序指令。
func (c *RoomClient) replayPending(id int64) {
	for _, pf := range c.pend.take(id) {
		switch pf.Command {
		case protocol.TextMessageSupportOrReject:
			c.handleVote(pf)
		case protocol.TextMessageEdit:
			c.handleEdit(pf)
		}
	}
}

func (c *RoomClient) handleEdit(f protocol.InFrame) {
	dto, ok := f.FirstMessage()
	if !ok || dto.ID == nil {
		return
	}
	id := *dto.ID
	if c.store.IsDeleted(id) {
		return
	}
	if _, ok := c.store.Message(id); !ok {
		c.pend.add(id, f)
		return
	}
	text := ""
	if dto.Text != nil {
		text = protocol.DecodeText(*dto.Text)
	}
	editedAt := int64(0)
	if dto.LastEditedAt != nil {
		editedAt = *dto.LastEditedAt
	}
	if c.store.ApplyEdit(id, text, editedAt) {
		c.emit(Event{Kind: EventMessagesUpdated, MessageID: id})
	} else {
		metrics.StaleDropsTotal.WithLabelValues(string(f.Command)).Inc()
	}
}

func (c *RoomClient) handleVote(f protocol.InFrame) {
	dto, ok := f.FirstMessage()
	if !ok || dto.ID == nil {
		return
	}
	id := *dto.ID
	if c.store.IsDeleted(id) {
		return
	}
	if _, ok := c.store.Message(id); !ok {
		c.pend.add(id, f)
		return
	}
	support, reject, votedAt := 0, 0, int64(0)
	if dto.SupportedCount != nil {
		support = *dto.SupportedCount
	}
	if dto.RejectedCount != nil {
		reject = *dto.RejectedCount
	}
	if dto.LastVotedAt != nil {
		votedAt = *dto.LastVotedAt
	}
	if c.store.ApplyVote(id, support, reject, votedAt) {
		c.emit(Event{Kind: EventMessagesUpdated, MessageID: id})
	} else {
		metrics.StaleDropsTotal.WithLabelValues(string(f.Command)).Inc()
	}
}

// handleDelete 删除立即生效并立墓碑；本体未到时墓碑同样成立，
// 指向它的暂存指令一并丢弃。
func (c *RoomClient) handleDelete(f protocol.InFrame) {
	dto, ok := f.FirstMessage()
	if !ok || dto.ID == nil {
		return
	}
	id := *dto.ID
	c.store.Delete(id)
	c.pend.drop(id)
	c.emit(Event{Kind: EventMessagesUpdated, MessageID: id})
}

// handleRoster 全量成员快照。
func (c *RoomClient) handleRoster(f protocol.InFrame) {
	at := int64(0)
	if f.CreatedAt != nil {
		at = *f.CreatedAt
	}
	users := make([]models.User, 0, len(f.RoomUsers))
	for _, du := range f.RoomUsers {
		if du.UserInRoomUUID == nil {
			continue
		}
		u := models.User{ID: *du.UserInRoomUUID}
		if du.UserName != nil {
			u.Name = *du.UserName
		}
		if du.IsAnonName != nil {
			u.IsAnon = *du.IsAnonName
		}
		if du.IsOnlineInRoom != nil {
			u.IsOnline = *du.IsOnlineInRoom
		}
		users = append(users, u)
	}
	if c.store.ApplyRoster(users, at) {
		c.emit(Event{Kind: EventRosterUpdated})
	} else {
		metrics.StaleDropsTotal.WithLabelValues(string(f.Command)).Inc()
	}
}

// handleDescription 房间描述变更。入房确认前到达的先排队，
// 确认后按序回放。
func (c *RoomClient) handleDescription(f protocol.InFrame) {
	if c.state != ws.StateSynced {
		c.queuedDescriptions = append(c.queuedDescriptions, f)
		return
	}
	desc := ""
	if dto, ok := f.FirstMessage(); ok && dto.Text != nil {
		desc = protocol.DecodeText(*dto.Text)
	}
	changedAt := int64(0)
	if f.CreatedAt != nil {
		changedAt = *f.CreatedAt
	}
	creator := ""
	if f.RoomCreatorUUID != nil {
		creator = *f.RoomCreatorUUID
	}
	if c.store.ApplyDescription(desc, changedAt, creator) {
		c.emit(Event{Kind: EventRoomUpdated})
	} else {
		metrics.StaleDropsTotal.WithLabelValues(string(f.Command)).Inc()
	}
}

// handleResync 全量消息同步：先清掉重连前的旧条目，再逐条落地
// 快照。重连后已经实时收到的消息不带清理标记，快照里的重复项
// 会被去重。
func (c *RoomClient) handleResync(f protocol.InFrame) {
	purged := c.store.PurgeMarked()

	base := int64(0)
	if f.CreatedAt != nil {
		base = *f.CreatedAt
	}

	applied := 0
	for _, dto := range f.Messages {
		if dto.ID == nil {
			continue
		}
		id := *dto.ID
		if c.store.IsDeleted(id) {
			continue
		}
		if !c.store.Insert(c.messageFromDTO(dto, base)) {
			continue
		}
		applied++
		c.replayPending(id)
	}

	log.Info().Int("purged", purged).Int("applied", applied).Msg("full message sync applied")
	c.emit(Event{Kind: EventMessagesUpdated})
}
