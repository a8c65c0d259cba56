package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/LiquidCake/instantchat/internal/metrics"
	"github.com/LiquidCake/instantchat/internal/protocol"
)

var (
	ErrConnClosed     = errors.New("ws: connection closed")
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

const (
	readLimit  = 1 << 20 // 1MB
	readWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Conn 一条到后端的物理连接。读协程解码入站帧推给 Frames，
// 写协程串行发送并维持 ping。任一侧出错即整体关闭，
// 重连由上层建新 Conn 完成。
type Conn struct {
	ws     *websocket.Conn
	frames chan protocol.InFrame
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// Dial 建立连接并启动读写协程。
func Dial(ctx context.Context, url string) (*Conn, error) {
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:     socket,
		frames: make(chan protocol.InFrame, 64),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Frames 入站帧通道，连接断开后关闭。
func (c *Conn) Frames() <-chan protocol.InFrame { return c.frames }

// Send 序列化并入队发送。连接已关或队列已满时同步报错，
// 不做任何排队等待。
func (c *Conn) Send(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		metrics.FramesOutTotal.Inc()
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close 幂等关闭。读写协程随底层 socket 关闭而退出。
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		close(c.frames)
	}()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			metrics.FrameDecodeErrors.Inc()
			log.Warn().Err(err).Msg("drop undecodable frame")
			continue
		}
		metrics.FramesInTotal.Inc()
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
