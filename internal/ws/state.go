package ws

// State 会话状态机。前五个状态构成正常生命周期循环，
// 后两个为终态，进入后不再尝试重连。
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingJoinAck
	StateSynced
	StateReconnecting

	StateVersionMismatch
	StateDuplicateSession
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingJoinAck:
		return "awaiting_join_ack"
	case StateSynced:
		return "synced"
	case StateReconnecting:
		return "reconnecting"
	case StateVersionMismatch:
		return "version_mismatch"
	case StateDuplicateSession:
		return "duplicate_session"
	}
	return "unknown"
}

// Terminal 终态不可恢复，只能整体重开会话。
func (s State) Terminal() bool {
	return s == StateVersionMismatch || s == StateDuplicateSession
}
