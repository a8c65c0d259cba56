package models

import (
	"strings"
	"time"
)

type Room struct {
	ID                   string
	Name                 string
	HasPassword          bool
	CreatorUserID        string
	Description          string
	DescriptionChangedAt int64
	JoinedAt             time.Time
}

type User struct {
	ID       string
	Name     string
	IsAnon   bool
	IsOnline bool
}

type Message struct {
	ID           int64
	AuthorUserID string
	AuthorName   string
	Text         string
	CreatedAtSec int64

	// 过期判定水位线：仅允许向前推进。
	EditedAt int64
	VotedAt  int64

	SupportCount int
	RejectCount  int
	WasEdited    bool

	ReplyToMessageID   int64
	ReplyToUserID      string
	ReplyToUserName    string
	ReplyToMessageText string

	IsDrawing   bool
	DrawingName string

	// 重连后等待全量同步清理的旧条目。
	MarkedForCleanup bool
}

// TimeText 消息时间的展示文本，也是可检索字段之一。
func (m *Message) TimeText() string {
	return time.Unix(m.CreatedAtSec, 0).Format("15:04:05")
}

// IsFolkPick 得到过任意支持/反对票的消息进入精选视图。
// 已删除的消息不在存储快照里，不会走到这里。
func (m *Message) IsFolkPick() bool {
	return m.SupportCount > 0 || m.RejectCount > 0
}

// IsSupported 精选视图内按票数比对显示支持状态。
func (m *Message) IsSupported() bool {
	return m.SupportCount >= m.RejectCount
}

// ReplyPreview 生成引用预览：压平换行并截断到 30 个字符。
func ReplyPreview(text string) string {
	flat := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	r := []rune(flat)
	if len(r) <= 33 {
		return flat
	}
	return string(r[:30]) + "..."
}
