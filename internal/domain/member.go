package domain

// MemberDTO is a roster entry as clients see it.
type MemberDTO struct {
	Name string   `json:"name"`
	CID  ClientID `json:"cid"`
}
