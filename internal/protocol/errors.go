package protocol

import "strconv"

// BusinessError 服务端业务错误，通过 "ER" 帧下发，m[0].t 携带错误码。
type BusinessError struct {
	Code int
	Name string
	Text string

	// 密码错误时服务端在帧的 pd 字段附带备选房间名后缀。
	AlternativeNamePostfixes []string
}

func (e *BusinessError) Error() string {
	return e.Text
}

const (
	CodeServerError      = 101
	CodeConnectionError  = 102
	CodeInvalidInput     = 103
	CodeRoomExists       = 201
	CodeRoomNotFound     = 202
	CodeInvalidPassword  = 203
	CodeUserNameTaken    = 204
	CodeUserNameLength   = 205
	CodeNotAuthorized    = 206
	CodeMessageTooLong   = 207
	CodeRoomFull         = 208
	CodeUserDuplication  = 209
	CodeCredsBadLength   = 301
	CodeNameForbidden    = 302
	CodeNameHasBadChars  = 303
	CodeDescriptionBadLn = 304
)

var businessErrors = map[int]BusinessError{
	CodeServerError:      {Code: 101, Name: "WsServerError", Text: "server error"},
	CodeConnectionError:  {Code: 102, Name: "WsConnectionError", Text: "connection error"},
	CodeInvalidInput:     {Code: 103, Name: "WsInvalidInput", Text: "invalid input"},
	CodeRoomExists:       {Code: 201, Name: "WsRoomExists", Text: "room with this name already exists"},
	CodeRoomNotFound:     {Code: 202, Name: "WsRoomNotFound", Text: "room not found"},
	CodeInvalidPassword:  {Code: 203, Name: "WsRoomInvalidPassword", Text: "invalid room password"},
	CodeUserNameTaken:    {Code: 204, Name: "WsRoomUserNameTaken", Text: "provided user name is already taken"},
	CodeUserNameLength:   {Code: 205, Name: "WsRoomUserNameValidationError", Text: "invalid room user name length"},
	CodeNotAuthorized:    {Code: 206, Name: "WsRoomNotAuthorized", Text: "not authorized to join this room"},
	CodeMessageTooLong:   {Code: 207, Name: "WsRoomMessageTooLargeError", Text: "message is too long"},
	CodeRoomFull:         {Code: 208, Name: "WsRoomIsFullError", Text: "room is full"},
	CodeUserDuplication:  {Code: 209, Name: "WsRoomUserDuplication", Text: "user connected to this room from another browser tab"},
	CodeCredsBadLength:   {Code: 301, Name: "WsRoomCredsValidationErrorBadLength", Text: "invalid room name length"},
	CodeNameForbidden:    {Code: 302, Name: "WsRoomCredsValidationErrorNameForbidden", Text: "room name is forbidden"},
	CodeNameHasBadChars:  {Code: 303, Name: "WsRoomCredsValidationErrorNameHasBadChars", Text: "room name contains bad characters"},
	CodeDescriptionBadLn: {Code: 304, Name: "WsRoomValidationErrorBadDescriptionLength", Text: "invalid room description length"},
}

// BusinessErrorByCode 按错误码查表；未知错误码按服务器错误兜底。
func BusinessErrorByCode(code int) BusinessError {
	if be, ok := businessErrors[code]; ok {
		return be
	}
	be := businessErrors[CodeServerError]
	be.Code = code
	return be
}

// BusinessErrorFromFrame 从 "ER" 帧提取业务错误。
func BusinessErrorFromFrame(fr *InFrame) (BusinessError, bool) {
	msg, ok := fr.FirstMessage()
	if !ok || msg.Text == nil {
		return BusinessError{}, false
	}
	code, err := strconv.Atoi(*msg.Text)
	if err != nil {
		return BusinessError{}, false
	}
	return BusinessErrorByCode(code), true
}
