package domain

type RoomName string

// RoomInfo is a read-only summary used by the admin API.
type RoomInfo struct {
	Name        RoomName `json:"name"`
	MemberCount int      `json:"client_count"`
	Persistent  bool     `json:"persistent"`
}
