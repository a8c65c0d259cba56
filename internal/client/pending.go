package client

import (
	"github.com/LiquidCake/instantchat/internal/metrics"
	"github.com/LiquidCake/instantchat/internal/protocol"
)

// pendingSet 暂存先于消息本体到达的乱序指令，按目标消息 ID 分组，
// 组内保持到达顺序。本体落地后整组按原顺序回放恰好一次；
// 本体被删除则整组丢弃。删除指令不在此暂存，到达即生效并立墓碑。
type pendingSet struct {
	byID map[int64][]protocol.InFrame
}

func newPendingSet() *pendingSet {
	p := &pendingSet{}
	p.reset()
	return p
}

func (p *pendingSet) reset() {
	p.byID = make(map[int64][]protocol.InFrame)
	metrics.PendingCommands.Set(0)
}

func (p *pendingSet) add(id int64, f protocol.InFrame) {
	p.byID[id] = append(p.byID[id], f)
	metrics.PendingCommands.Inc()
}

// take 取出并清空目标消息的全部暂存指令，顺序即到达顺序。
func (p *pendingSet) take(id int64) []protocol.InFrame {
	out := p.byID[id]
	p.drop(id)
	return out
}

// drop 丢弃目标消息的全部暂存指令。
func (p *pendingSet) drop(id int64) {
	if n := len(p.byID[id]); n > 0 {
		metrics.PendingCommands.Sub(float64(n))
	}
	delete(p.byID, id)
}

func (p *pendingSet) size() int {
	n := 0
	for _, v := range p.byID {
		n += len(v)
	}
	return n
}
