package protocol

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Command 标识帧所承载的指令类型，与服务端约定一致。
type Command string

const (
	RoomCreateJoin          Command = "R_C_J"
	RoomCreateJoinAuthorize Command = "R_C_J_AU"
	RoomCreate              Command = "R_C"
	RoomJoin                Command = "R_J"
	RoomChangeDescription   Command = "R_CH_D"
	RoomChangeUserName      Command = "R_CH_UN"
	RoomMembersChanged      Command = "R_M_CH"

	TextMessage                Command = "TM"
	TextMessageEdit            Command = "TM_E"
	TextMessageDelete          Command = "TM_D"
	TextMessageSupportOrReject Command = "TM_S_R"
	AllTextMessages            Command = "ALL_TM"

	UserDrawingMessage Command = "DM"

	Error            Command = "ER"
	RequestProcessed Command = "RP"

	NotifyMessagesLimitApproaching Command = "N_M_LIMIT_A"
	NotifyMessagesLimitReached     Command = "N_M_LIMIT_R"
)

// 客户端侧的领域限制，与服务端校验保持一致。
const (
	RoomNameMinLength = 3
	RoomNameMaxLength = 100

	UserNameMinLength = 1
	UserNameMaxLength = 80

	MaxRoomDescriptionLength = 400
	MaxTextMessageLength     = 10000
)

const (
	UnknownUserName        = "~Unknown"
	MessageUnavailableText = "/ message unavailable /"
	DrawingMetaMarker      = "$#$meta_marker_is_drawing$#$"
	KeepAliveBeaconValue   = "OK"
	JoinRequestTag         = "room_c_j_done"
	UserActionTagPrefix    = "u_action_"
	DetailsRoomCreated     = "room_created"
	DetailsRoomHasPassword = "password=true"
)

// RoomRef 指向目标房间，出站帧的 "r" 字段。
type RoomRef struct {
	Name     string `json:"n"`
	Password string `json:"p,omitempty"`
}

// MessagePayload 出站帧的 "m" 字段，按指令类型填充部分字段。
type MessagePayload struct {
	ID               int64  `json:"id,omitempty"`
	Text             string `json:"t,omitempty"`
	ReplyToUserID    string `json:"rU,omitempty"`
	ReplyToMessageID int64  `json:"rM,omitempty"`
}

// OutFrame 客户端发往服务端的帧。
type OutFrame struct {
	Command         Command         `json:"c,omitempty"`
	RequestID       string          `json:"rq,omitempty"`
	Room            *RoomRef        `json:"r,omitempty"`
	UserName        string          `json:"uN,omitempty"`
	SupportOrReject bool            `json:"srM,omitempty"`
	KeepAliveBeacon string          `json:"kA,omitempty"`
	Message         *MessagePayload `json:"m,omitempty"`
}

// InitFrame 建立连接后发送的探测帧。
type InitFrame struct {
	Platform string `json:"p"`
}

// MessageDTO 服务端下发的消息载荷；不同指令只会填充部分字段。
type MessageDTO struct {
	ID               *int64  `json:"id,omitempty"`
	Text             *string `json:"t,omitempty"`
	SupportedCount   *int    `json:"sC,omitempty"`
	RejectedCount    *int    `json:"rC,omitempty"`
	LastEditedAt     *int64  `json:"lE,omitempty"`
	LastVotedAt      *int64  `json:"lV,omitempty"`
	ReplyToUserID    *string `json:"rU,omitempty"`
	ReplyToMessageID *int64  `json:"rM,omitempty"`
	UserInRoomUUID   *string `json:"uId,omitempty"`
	CreatedAtSec     *int64  `json:"cAt,omitempty"`
}

// RoomUserDTO 全量花名册条目。
type RoomUserDTO struct {
	UserInRoomUUID *string `json:"uId"`
	UserName       *string `json:"n"`
	IsAnonName     *bool   `json:"an"`
	IsOnlineInRoom *bool   `json:"o"`
}

// InFrame 服务端推送的帧。
type InFrame struct {
	Command           Command       `json:"c"`
	RequestID         *string       `json:"rq,omitempty"`
	ProcessingDetails *string       `json:"pd,omitempty"`
	Messages          []MessageDTO  `json:"m,omitempty"`
	RoomUUID          *string       `json:"rId,omitempty"`
	UserInRoomUUID    *string       `json:"uId,omitempty"`
	RoomCreatorUUID   *string       `json:"rCuId,omitempty"`
	CreatedAt         *int64        `json:"cAt,omitempty"`
	RoomUsers         []RoomUserDTO `json:"rU,omitempty"`
	BuildNumber       *string       `json:"bN,omitempty"`
	ServerStatus      *string       `json:"sS,omitempty"`
}

// DecodeFrame 解析单个入站帧。
func DecodeFrame(data []byte) (InFrame, error) {
	var fr InFrame
	err := json.Unmarshal(data, &fr)
	return fr, err
}

// FirstMessage 返回载荷数组的首个元素，单实体指令约定长度为 1。
func (f *InFrame) FirstMessage() (MessageDTO, bool) {
	if len(f.Messages) == 0 {
		return MessageDTO{}, false
	}
	return f.Messages[0], true
}

// EncodeText 文本字段在线路上按 URL 组件编码传输。
func EncodeText(s string) string {
	return url.PathEscape(s)
}

// DecodeText 解码失败时按原文返回，保证畸形输入不致中断帧处理。
func DecodeText(s string) string {
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return out
}

// MillisFromNanos 房间创建时间以纳秒下发，其余时间戳为毫秒。
func MillisFromNanos(nano int64) int64 {
	return nano / 1_000_000
}

// ParseProcessingDetails 解析入房确认帧的处理详情，
// 形如 "room_created;password=true"。
func ParseProcessingDetails(pd string) (created, hasPassword bool) {
	for _, part := range strings.Split(pd, ";") {
		switch part {
		case DetailsRoomCreated:
			created = true
		case DetailsRoomHasPassword:
			hasPassword = true
		}
	}
	return created, hasPassword
}

// UserActionTag 为本地动作序号生成关联标签。
func UserActionTag(seq uint64) string {
	return UserActionTagPrefix + strconv.FormatUint(seq, 10)
}
