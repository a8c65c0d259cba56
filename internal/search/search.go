// Package search 实现消息正文检索：每条消息拆成七个可检索字段，
// 命中位置按固定的字段优先级串成一个环，向后/向前遍历均可绕回。
package search

import (
	"strconv"
	"strings"

	"github.com/LiquidCake/instantchat/internal/models"
)

// Field 可检索字段。数值即向后遍历时的优先级顺序。
type Field int

const (
	FieldMessageID Field = iota
	FieldAuthorName
	FieldTime
	FieldReplyMessageID
	FieldReplyUserName
	FieldReplyText
	FieldText

	fieldCount
)

func (f Field) String() string {
	switch f {
	case FieldMessageID:
		return "message-id"
	case FieldAuthorName:
		return "author-name"
	case FieldTime:
		return "time"
	case FieldReplyMessageID:
		return "reply-message-id"
	case FieldReplyUserName:
		return "reply-user-name"
	case FieldReplyText:
		return "reply-text"
	case FieldText:
		return "text"
	}
	return "unknown"
}

// Match 一次命中：哪条消息、哪个字段、字段文本内的偏移。
type Match struct {
	MessageID int64
	Field     Field
	Offset    int
}

type entry struct {
	messageID int64
	offsets   [fieldCount][]int
}

// Index 针对单个查询串构建的命中索引，附带一个环形游标。
// 查询串变化或消息数据版本推进后索引即过期，须重建。
type Index struct {
	query    string
	builtRev int64

	entries []entry

	started  bool
	msgIdx   int
	fieldIdx int
	hitIdx   int
}

// Stale 判断索引是否还能服务给定查询。
func (x *Index) Stale(query string, rev int64) bool {
	return x == nil || x.query != query || rev > x.builtRev
}

// Build 对按 ID 升序的消息快照构建索引。空查询串产生空索引。
func Build(query string, msgs []models.Message, rev int64) *Index {
	x := &Index{query: query, builtRev: rev}
	if query == "" {
		return x
	}
	needle := strings.ToLower(query)
	for i := range msgs {
		m := &msgs[i]
		if m.MarkedForCleanup {
			continue
		}
		var e entry
		e.messageID = m.ID
		found := false
		for f := FieldMessageID; f < fieldCount; f++ {
			offs := substringOffsets(fieldValue(m, f), needle)
			if len(offs) > 0 {
				e.offsets[f] = offs
				found = true
			}
		}
		if found {
			x.entries = append(x.entries, e)
		}
	}
	return x
}

func fieldValue(m *models.Message, f Field) string {
	switch f {
	case FieldMessageID:
		return "#" + strconv.FormatInt(m.ID, 10)
	case FieldAuthorName:
		return m.AuthorName
	case FieldTime:
		return m.TimeText()
	case FieldReplyMessageID:
		if m.ReplyToMessageID == 0 {
			return ""
		}
		return "#" + strconv.FormatInt(m.ReplyToMessageID, 10)
	case FieldReplyUserName:
		return m.ReplyToUserName
	case FieldReplyText:
		return m.ReplyToMessageText
	case FieldText:
		return m.Text
	}
	return ""
}

// substringOffsets 大小写不敏感地扫描所有不重叠命中位置。
func substringOffsets(haystack, lowerNeedle string) []int {
	if haystack == "" || lowerNeedle == "" {
		return nil
	}
	h := strings.ToLower(haystack)
	var offs []int
	for from := 0; ; {
		i := strings.Index(h[from:], lowerNeedle)
		if i < 0 {
			return offs
		}
		offs = append(offs, from+i)
		from += i + len(lowerNeedle)
	}
}

// HitCount 索引内命中总数。
func (x *Index) HitCount() int {
	n := 0
	for i := range x.entries {
		for f := range x.entries[i].offsets {
			n += len(x.entries[i].offsets[f])
		}
	}
	return n
}

// Next 返回环上的下一个命中。索引为空时返回 false。
// 首次调用返回环的第一个命中。
func (x *Index) Next() (Match, bool) {
	if len(x.entries) == 0 {
		return Match{}, false
	}
	if !x.started {
		x.started = true
		x.msgIdx, x.fieldIdx, x.hitIdx = 0, 0, 0
		x.skipEmptyForward()
		return x.current(), true
	}
	x.hitIdx++
	x.skipEmptyForward()
	return x.current(), true
}

// Prev 返回环上的前一个命中。首次调用返回环的最后一个命中。
func (x *Index) Prev() (Match, bool) {
	if len(x.entries) == 0 {
		return Match{}, false
	}
	if !x.started {
		x.started = true
		x.msgIdx = len(x.entries) - 1
		x.fieldIdx = int(fieldCount) - 1
		x.hitIdx = len(x.entries[x.msgIdx].offsets[x.fieldIdx]) - 1
	} else {
		x.hitIdx--
	}
	x.skipEmptyBackward()
	return x.current(), true
}

// skipEmptyForward 游标越过无命中的字段与消息，越界时绕回环首。
func (x *Index) skipEmptyForward() {
	for {
		offs := x.entries[x.msgIdx].offsets[x.fieldIdx]
		if x.hitIdx < len(offs) {
			return
		}
		x.hitIdx = 0
		x.fieldIdx++
		if x.fieldIdx >= int(fieldCount) {
			x.fieldIdx = 0
			x.msgIdx++
			if x.msgIdx >= len(x.entries) {
				x.msgIdx = 0
			}
		}
	}
}

func (x *Index) skipEmptyBackward() {
	for x.hitIdx < 0 {
		x.fieldIdx--
		if x.fieldIdx < 0 {
			x.fieldIdx = int(fieldCount) - 1
			x.msgIdx--
			if x.msgIdx < 0 {
				x.msgIdx = len(x.entries) - 1
			}
		}
		x.hitIdx = len(x.entries[x.msgIdx].offsets[x.fieldIdx]) - 1
	}
}

func (x *Index) current() Match {
	e := &x.entries[x.msgIdx]
	return Match{
		MessageID: e.messageID,
		Field:     Field(x.fieldIdx),
		Offset:    e.offsets[x.fieldIdx][x.hitIdx],
	}
}
