// Package client 实现房间会话引擎：维护到后端的单条长连接，
// 把乱序到达的指令流收敛成一致的房间快照，并负责断线重连。
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/LiquidCake/instantchat/internal/backendpick"
	"github.com/LiquidCake/instantchat/internal/config"
	"github.com/LiquidCake/instantchat/internal/metrics"
	"github.com/LiquidCake/instantchat/internal/models"
	"github.com/LiquidCake/instantchat/internal/protocol"
	"github.com/LiquidCake/instantchat/internal/search"
	"github.com/LiquidCake/instantchat/internal/store"
	"github.com/LiquidCake/instantchat/internal/ws"
)

const eventBuffer = 64

// RoomClient 单个房间会话。一个实例对应一条（逻辑）连接，
// 断线后在内部重连，调用方只订阅 Events 并读取快照。
type RoomClient struct {
	cfg      config.Config
	resolver *backendpick.Resolver
	room     protocol.RoomRef
	userName string

	// 会话实例标识，服务端用它识别同一用户的重复连接。
	instanceID string

	store   *store.Store
	pend    *pendingSet
	limiter *sendLimiter

	mu                 sync.Mutex
	state              ws.State
	conn               *ws.Conn
	closed             bool
	everSynced         bool
	attempt            int
	tracker            actionTracker
	queuedDescriptions []protocol.InFrame
	index              *search.Index

	events chan Event
	done   chan struct{}
}

func New(cfg config.Config, room protocol.RoomRef, userName string) *RoomClient {
	return &RoomClient{
		cfg:        cfg,
		resolver:   backendpick.New(cfg.PickBackendURL),
		room:       room,
		userName:   userName,
		instanceID: uuid.NewString(),
		store:      store.New(),
		pend:       newPendingSet(),
		limiter:    newSendLimiter(rate.Limit(5), 10, 2*time.Minute),
		state:      ws.StateDisconnected,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
}

// Join 校验入参并启动会话协程。连接建立与重连都在后台进行，
// 进度通过 Events 通知。
func (c *RoomClient) Join(ctx context.Context) error {
	if err := validateRoomName(c.room.Name); err != nil {
		return err
	}
	if err := validateUserName(c.userName); err != nil {
		return err
	}
	if c.room.Password != "" {
		if err := validateRoomName(c.room.Password); err != nil {
			return err
		}
	}
	go c.run(ctx)
	return nil
}

func (c *RoomClient) run(ctx context.Context) {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if c.isDone() {
				return
			}
			if !c.hasEverSynced() {
				c.fatal(err)
				return
			}
			c.prepareReconnect()
			if !c.waitReconnect(ctx) {
				return
			}
			continue
		}

		for frame := range conn.Frames() {
			c.handleFrame(frame)
		}
		conn.Close()

		if c.isDone() {
			return
		}
		if !c.hasEverSynced() {
			c.fatal(errors.New("client: connection lost before initial sync"))
			return
		}
		c.prepareReconnect()
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

// connect 完成一次完整的建连流程：选后端、拨号、发送探测帧
// 与入房请求。入房确认由帧处理器接手。
func (c *RoomClient) connect(ctx context.Context) (*ws.Conn, error) {
	c.setState(ws.StateConnecting)

	pickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	res, err := c.resolver.Pick(pickCtx, c.room.Name)
	cancel()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, err := ws.Dial(dialCtx, c.cfg.WSScheme+"://"+res.BackendAddr+c.cfg.WSPath)
	cancel()
	if err != nil {
		return nil, err
	}

	if err := conn.Send(protocol.InitFrame{Platform: "go/" + c.instanceID}); err != nil {
		conn.Close()
		return nil, err
	}

	join := protocol.OutFrame{
		Command:   protocol.RoomCreateJoin,
		RequestID: protocol.JoinRequestTag,
		Room:      &c.room,
		UserName:  c.userName,
	}
	if c.room.Password != "" {
		join.Command = protocol.RoomCreateJoinAuthorize
	}
	if err := conn.Send(join); err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrSessionClosed
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(ws.StateAwaitingJoinAck)

	log.Info().Str("backend", res.BackendAddr).Str("room", c.room.Name).Msg("join request sent")
	return conn, nil
}

// prepareReconnect 断线后的善后：现有消息打清理标记、
// 丢弃暂存指令与未确认动作、作废检索索引。尝试计数
// 只增长到上限，之后以固定的最大间隔无限重试。
func (c *RoomClient) prepareReconnect() {
	c.mu.Lock()
	c.state = ws.StateReconnecting
	if c.attempt < c.cfg.MaxReconnectStep {
		c.attempt++
	}
	c.tracker.reset()
	c.pend.reset()
	c.queuedDescriptions = nil
	c.index = nil
	c.mu.Unlock()

	c.store.MarkAllForCleanup()
	metrics.ReconnectsTotal.Inc()
	c.emit(Event{Kind: EventStateChanged, State: ws.StateReconnecting})
}

func (c *RoomClient) waitReconnect(ctx context.Context) bool {
	c.mu.Lock()
	delay := time.Duration(c.attempt*c.cfg.ReconnectStepMillis) * time.Millisecond
	c.mu.Unlock()
	log.Info().Dur("delay", delay).Msg("scheduling reconnect")
	select {
	case <-time.After(delay):
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// keepAlive 入房成功后每隔固定周期发送心跳帧。
// 连接换代后旧协程随发送失败退出。
func (c *RoomClient) keepAlive(conn *ws.Conn) {
	ticker := time.NewTicker(time.Duration(c.cfg.KeepAliveSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Send(protocol.OutFrame{KeepAliveBeacon: protocol.KeepAliveBeaconValue}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

/* ---------- 生命周期与状态 ---------- */

// Close 结束会话。幂等。
func (c *RoomClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if !c.state.Terminal() {
		c.state = ws.StateDisconnected
	}
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	c.limiter.Stop()
}

// shutdownLocked 终态或致命错误下的就地收尾，要求已持有 c.mu。
func (c *RoomClient) shutdownLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		c.conn.Close()
	}
	c.limiter.Stop()
}

func (c *RoomClient) fatal(err error) {
	log.Error().Err(err).Msg("session failed")
	c.emit(Event{Kind: EventFatal, Err: err})
	c.Close()
}

func (c *RoomClient) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *RoomClient) hasEverSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.everSynced
}

func (c *RoomClient) setState(s ws.State) {
	c.mu.Lock()
	if c.state == s || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventStateChanged, State: s})
}

func (c *RoomClient) State() ws.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events 事件通道。永不关闭，结束信号见 Done。
func (c *RoomClient) Events() <-chan Event { return c.events }

func (c *RoomClient) Done() <-chan struct{} { return c.done }

// emit 非阻塞投递，队列满时丢弃。事件只是"读最新快照"的信号，
// 丢失个别事件不影响最终一致。
func (c *RoomClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("kind", ev.Kind.String()).Msg("event queue full, dropping")
	}
}

/* ---------- 快照读取 ---------- */

func (c *RoomClient) Room() models.Room { return c.store.Room() }

func (c *RoomClient) Users() []models.User { return c.store.Users() }

func (c *RoomClient) SelfUserID() string { return c.store.SelfUserID() }

func (c *RoomClient) LastOwnMessageID() int64 { return c.store.LastOwnMessageID() }

func (c *RoomClient) Messages() []models.Message { return c.store.Messages() }

func (c *RoomClient) FolkPicks() []models.Message { return c.store.FolkPicks() }

func (c *RoomClient) Message(id int64) (models.Message, bool) { return c.store.Message(id) }

// MessageView 在消息之上标注与当前会话相关的身份信息。
type MessageView struct {
	models.Message
	IsSelf        bool
	IsRoomCreator bool
}

func (c *RoomClient) MessageViews() []MessageView {
	self := c.store.SelfUserID()
	creator := c.store.Room().CreatorUserID
	msgs := c.store.Messages()
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{
			Message:       m,
			IsSelf:        self != "" && m.AuthorUserID == self,
			IsRoomCreator: creator != "" && m.AuthorUserID == creator,
		})
	}
	return out
}

/* ---------- 检索 ---------- */

// SearchNext 返回查询串的下一个命中，遍历到尾部后绕回。
// 查询串变化或消息数据有更新时先重建索引。
func (c *RoomClient) SearchNext(query string) (search.Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureIndexLocked(query)
	return c.index.Next()
}

// SearchPrev 反向遍历，字段顺序与 SearchNext 严格相反。
func (c *RoomClient) SearchPrev(query string) (search.Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureIndexLocked(query)
	return c.index.Prev()
}

func (c *RoomClient) ensureIndexLocked(query string) {
	rev := c.store.Rev()
	if c.index.Stale(query, rev) {
		c.index = search.Build(query, c.store.Messages(), rev)
		metrics.SearchRebuildsTotal.Inc()
	}
}

/* ---------- 入参校验 ---------- */

func validateRoomName(s string) error {
	n := len([]rune(s))
	if n < protocol.RoomNameMinLength || n > protocol.RoomNameMaxLength {
		return errors.New("client: room name/password length out of range")
	}
	return nil
}

func validateUserName(s string) error {
	n := len([]rune(s))
	if n < protocol.UserNameMinLength || n > protocol.UserNameMaxLength {
		return ErrInvalidUserName
	}
	return nil
}
