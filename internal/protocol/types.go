package protocol

import (
	json "github.com/goccy/go-json"

	"github.com/dkeye/Huddle/internal/domain"
)

// Client to server.
const (
	TypeRoomJoin      = "room-join"
	TypeRoomCreate    = "room-create"
	TypeClientSetName = "room-client-setname"
	TypeTextMessage   = "text-message"
	TypeState         = "state"
	TypeKeySet        = "key-set"
	TypeKeyDelete     = "key-delete"
)

// Server to client. State, key-set, key-delete, text-message and
// room-client-setname reuse the inbound names.
const (
	TypeRoomJoinSuccess = "room-join-success"
	TypeRoomJoinFailed  = "room-join-failed"
	TypeRoomCreated     = "room-created"
	TypeClientJoin      = "room-client-join"
	TypeClientLeave     = "room-client-leave"
	TypeError           = "error"
)

type RoomJoinSuccess struct {
	Type     string             `json:"type"`
	RoomName domain.RoomName    `json:"room-name"`
	ClientID domain.ClientID    `json:"client-id"`
	Clients  []domain.MemberDTO `json:"clients"`
}

func NewRoomJoinSuccess(room domain.RoomName, id domain.ClientID, roster []domain.MemberDTO) RoomJoinSuccess {
	if roster == nil {
		roster = []domain.MemberDTO{}
	}
	return RoomJoinSuccess{Type: TypeRoomJoinSuccess, RoomName: room, ClientID: id, Clients: roster}
}

type RoomJoinFailed struct {
	Type     string          `json:"type"`
	RoomName domain.RoomName `json:"room-name"`
	Reason   string          `json:"reason"`
}

func NewRoomJoinFailed(room domain.RoomName, reason string) RoomJoinFailed {
	return RoomJoinFailed{Type: TypeRoomJoinFailed, RoomName: room, Reason: reason}
}

type RoomCreated struct {
	Type     string          `json:"type"`
	RoomName domain.RoomName `json:"room-name"`
}

func NewRoomCreated(room domain.RoomName) RoomCreated {
	return RoomCreated{Type: TypeRoomCreated, RoomName: room}
}

// ClientPresence is sent as room-client-join and room-client-leave.
type ClientPresence struct {
	Type       string          `json:"type"`
	ClientName string          `json:"client-name"`
	ClientID   domain.ClientID `json:"client-id"`
	RoomName   domain.RoomName `json:"room-name"`
}

func NewClientJoin(u domain.MemberDTO, room domain.RoomName) ClientPresence {
	return ClientPresence{Type: TypeClientJoin, ClientName: u.Name, ClientID: u.CID, RoomName: room}
}

func NewClientLeave(u domain.MemberDTO, room domain.RoomName) ClientPresence {
	return ClientPresence{Type: TypeClientLeave, ClientName: u.Name, ClientID: u.CID, RoomName: room}
}

type ClientSetName struct {
	Type       string          `json:"type"`
	ClientID   domain.ClientID `json:"client-id"`
	ClientName string          `json:"client-name"`
}

func NewClientSetName(id domain.ClientID, name string) ClientSetName {
	return ClientSetName{Type: TypeClientSetName, ClientID: id, ClientName: name}
}

type TextMessage struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	ClientID   domain.ClientID `json:"client-id"`
	ClientName string          `json:"client-name"`
}

func NewTextMessage(from domain.MemberDTO, text string) TextMessage {
	return TextMessage{Type: TypeTextMessage, Text: text, ClientID: from.CID, ClientName: from.Name}
}

// StateMessage carries a full snapshot. State must already be a private
// copy: it is encoded later by the recipient's outbound duty.
type StateMessage struct {
	Type  string `json:"type"`
	State any    `json:"state"`
}

func NewState(snapshot any) StateMessage {
	return StateMessage{Type: TypeState, State: snapshot}
}

type KeySet struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func NewKeySet(key string, value json.RawMessage) KeySet {
	return KeySet{Type: TypeKeySet, Key: key, Value: value}
}

type KeyDelete struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

func NewKeyDelete(key string) KeyDelete {
	return KeyDelete{Type: TypeKeyDelete, Key: key}
}

type ErrorMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewError(text string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Text: text}
}
