// Package store 保存当前房间在客户端一侧的全部可见状态：
// 房间属性、成员名单、消息集合以及尚未解析的作者/引用索引。
// 所有带时间戳的字段只接受更新的值，旧帧一律丢弃。
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/LiquidCake/instantchat/internal/models"
	"github.com/LiquidCake/instantchat/internal/protocol"
)

type Store struct {
	mu sync.RWMutex

	room       models.Room
	selfUserID string

	users    map[string]*models.User
	rosterAt int64

	messages map[int64]*models.Message
	order    []int64
	needSort bool

	// 已删除消息的墓碑，防止乱序到达的旧帧复活消息。
	deleted map[int64]struct{}

	unresolvedAuthor map[string][]int64
	unresolvedReply  map[string][]int64

	lastOwnMessageID int64

	// 检索数据版本号，任何影响消息内容的改动都会递增。
	rev int64
}

func New() *Store {
	s := &Store{}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.users = make(map[string]*models.User)
	s.rosterAt = 0
	s.messages = make(map[int64]*models.Message)
	s.order = nil
	s.needSort = false
	s.deleted = make(map[int64]struct{})
	s.unresolvedAuthor = make(map[string][]int64)
	s.unresolvedReply = make(map[string][]int64)
	s.lastOwnMessageID = 0
	s.rev++
}

// Reset 清空全部房间状态，换房或彻底退出时使用。
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = models.Room{}
	s.selfUserID = ""
	s.resetLocked()
}

// Rev 返回检索数据版本号，检索索引据此判断自身是否过期。
func (s *Store) Rev() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

func (s *Store) bumpLocked() {
	s.rev++
}

/* ---------- 房间与身份 ---------- */

func (s *Store) Room() models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Store) SetRoom(r models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 描述水位线与创建者身份跨重连保留，避免重新入房时丢失。
	if r.DescriptionChangedAt < s.room.DescriptionChangedAt {
		r.Description = s.room.Description
		r.DescriptionChangedAt = s.room.DescriptionChangedAt
	}
	if r.CreatorUserID == "" {
		r.CreatorUserID = s.room.CreatorUserID
	}
	s.room = r
}

func (s *Store) SelfUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfUserID
}

func (s *Store) SetSelfUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfUserID = id
}

// ApplyDescription 按水位线更新房间描述，rCuId 同时携带创建者身份。
// 返回是否实际应用。
func (s *Store) ApplyDescription(desc string, changedAt int64, creatorUserID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creatorUserID != "" {
		s.room.CreatorUserID = creatorUserID
	}
	if changedAt <= s.room.DescriptionChangedAt {
		return false
	}
	s.room.Description = desc
	s.room.DescriptionChangedAt = changedAt
	return true
}

/* ---------- 成员名单 ---------- */

func (s *Store) RosterAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterAt
}

func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) UserByID(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

// ApplyRoster 应用一份完整成员快照。时间戳不晚于已有快照时丢弃。
// 新快照带来的改名会同步刷到所有相关消息上，此前作者未知的
// 消息在这里完成回填。
func (s *Store) ApplyRoster(users []models.User, at int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rosterAt != 0 && at <= s.rosterAt {
		return false
	}
	s.rosterAt = at

	next := make(map[string]*models.User, len(users))
	for i := range users {
		u := users[i]
		next[u.ID] = &u
	}

	for id, u := range next {
		prev, existed := s.users[id]
		if existed && prev.Name == u.Name {
			continue
		}
		s.renameLocked(id, u.Name)
	}
	s.users = next
	return true
}

// renameLocked 将用户的新名字刷到其全部消息及引用预览上，
// 并排空等待该用户的未解析队列。
func (s *Store) renameLocked(userID, name string) {
	changed := false
	for _, m := range s.messages {
		if m.AuthorUserID == userID && m.AuthorName != name {
			m.AuthorName = name
			changed = true
		}
		if m.ReplyToUserID == userID && m.ReplyToUserName != name {
			m.ReplyToUserName = name
			changed = true
		}
	}
	if ids, ok := s.unresolvedAuthor[userID]; ok {
		for _, id := range ids {
			if m, ok := s.messages[id]; ok {
				m.AuthorName = name
			}
		}
		delete(s.unresolvedAuthor, userID)
		changed = true
	}
	if ids, ok := s.unresolvedReply[userID]; ok {
		for _, id := range ids {
			if m, ok := s.messages[id]; ok {
				m.ReplyToUserName = name
			}
		}
		delete(s.unresolvedReply, userID)
		changed = true
	}
	if changed {
		s.bumpLocked()
	}
}

/* ---------- 消息 ---------- */

func (s *Store) Message(id int64) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages 返回按消息 ID 升序的快照。
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortLocked()
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		if m, ok := s.messages[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

func (s *Store) sortLocked() {
	if !s.needSort {
		return
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	s.needSort = false
}

func (s *Store) IsDeleted(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deleted[id]
	return ok
}

// Insert 放入一条新消息。已删除或已存在的 ID 直接拒绝。
// 作者或引用目标的名字未知时登记到未解析索引，等成员快照回填。
func (s *Store) Insert(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dead := s.deleted[m.ID]; dead {
		return false
	}
	if _, dup := s.messages[m.ID]; dup {
		return false
	}

	if u, ok := s.users[m.AuthorUserID]; ok {
		m.AuthorName = u.Name
	} else if m.AuthorName == "" {
		m.AuthorName = protocol.UnknownUserName
		s.unresolvedAuthor[m.AuthorUserID] = append(s.unresolvedAuthor[m.AuthorUserID], m.ID)
	}
	if m.ReplyToUserID != "" && m.ReplyToUserName == "" {
		if u, ok := s.users[m.ReplyToUserID]; ok {
			m.ReplyToUserName = u.Name
		} else {
			m.ReplyToUserName = protocol.UnknownUserName
			s.unresolvedReply[m.ReplyToUserID] = append(s.unresolvedReply[m.ReplyToUserID], m.ID)
		}
	}

	if n := len(s.order); n > 0 && s.order[n-1] > m.ID {
		s.needSort = true
	}
	s.order = append(s.order, m.ID)
	s.messages[m.ID] = &m

	// 先于被引用消息到达的回复此前只有占位预览，在这里补齐。
	preview := models.ReplyPreview(m.Text)
	for _, other := range s.messages {
		if other.ID != m.ID && other.ReplyToMessageID == m.ID {
			other.ReplyToUserName = m.AuthorName
			other.ReplyToMessageText = preview
		}
	}

	if m.AuthorUserID == s.selfUserID && m.ID > s.lastOwnMessageID {
		s.lastOwnMessageID = m.ID
	}
	s.bumpLocked()
	return true
}

// ApplyEdit 按编辑水位线更新消息正文。引用了该消息的预览同步刷新。
func (s *Store) ApplyEdit(id int64, text string, editedAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || editedAt <= m.EditedAt {
		return false
	}
	m.Text = text
	m.EditedAt = editedAt
	m.WasEdited = true
	if strings.HasPrefix(text, protocol.DrawingMetaMarker) {
		m.IsDrawing = true
		m.DrawingName = strings.TrimPrefix(text, protocol.DrawingMetaMarker)
	} else {
		m.IsDrawing = false
		m.DrawingName = ""
	}
	preview := models.ReplyPreview(text)
	for _, other := range s.messages {
		if other.ReplyToMessageID == id {
			other.ReplyToMessageText = preview
		}
	}
	s.bumpLocked()
	return true
}

// ApplyVote 按投票水位线更新票数。
func (s *Store) ApplyVote(id int64, support, reject int, votedAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || votedAt <= m.VotedAt {
		return false
	}
	m.SupportCount = support
	m.RejectCount = reject
	m.VotedAt = votedAt
	s.bumpLocked()
	return true
}

// Delete 删除消息并立墓碑。引用它的消息预览替换为占位文本。
// 消息本体尚未到达时仍然立碑，后续到达的本体会被拒收。
func (s *Store) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[id] = struct{}{}
	if _, ok := s.messages[id]; ok {
		delete(s.messages, id)
		s.removeFromOrderLocked(id)
	}
	for _, other := range s.messages {
		if other.ReplyToMessageID == id {
			other.ReplyToUserName = ""
			other.ReplyToMessageText = protocol.MessageUnavailableText
		}
	}
	s.bumpLocked()
}

func (s *Store) removeFromOrderLocked(id int64) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Store) LastOwnMessageID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastOwnMessageID
}

// FolkPicks 返回获得过投票的消息，按 ID 升序。
func (s *Store) FolkPicks() []models.Message {
	var out []models.Message
	for _, m := range s.Messages() {
		if m.IsFolkPick() {
			out = append(out, m)
		}
	}
	return out
}

/* ---------- 重连清理 ---------- */

// MarkAllForCleanup 重连前给现有消息打标记。全量同步会先清掉
// 带标记的旧条目，再铺上权威快照。
func (s *Store) MarkAllForCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		m.MarkedForCleanup = true
	}
	s.users = make(map[string]*models.User)
	s.rosterAt = 0
	s.unresolvedAuthor = make(map[string][]int64)
	s.unresolvedReply = make(map[string][]int64)
	s.bumpLocked()
}

// PurgeMarked 删除仍带清理标记的消息。返回清掉的条数。
func (s *Store) PurgeMarked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.messages {
		if m.MarkedForCleanup {
			delete(s.messages, id)
			s.removeFromOrderLocked(id)
			n++
		}
	}
	if n > 0 {
		s.bumpLocked()
	}
	return n
}
