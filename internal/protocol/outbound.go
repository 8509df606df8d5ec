package protocol

// LocalOut is the fan-out shape of a local broadcast.
type LocalOut struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Msg    string  `json:"msg"`
	Map    string  `json:"map"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// GlobalOut is the fan-out shape of a global broadcast.
type GlobalOut struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Msg    string `json:"msg"`
}

// WhisperOut is delivered to both whisper participants. UserID/Name identify
// the sender, UserID2/Name2 the target.
type WhisperOut struct {
	UserID  string `json:"userId"`
	UserID2 string `json:"userId2"`
	Name    string `json:"name"`
	Name2   string `json:"name2"`
	Msg     string `json:"msg"`
}

// GroupOut is the fan-out shape of a group message.
type GroupOut struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Msg     string `json:"msg"`
}

// GroupInfo describes a group in create-group, update-group and list events.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Title   string `json:"title"`
	IconURL string `json:"iconUrl"`
}

// UserInfo describes a group member.
type UserInfo struct {
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl"`
}

// MemberEvent is sent for group-join and group-leave.
type MemberEvent struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
}

// InvitationList lists the groups a user has outstanding invitations to.
type InvitationList struct {
	Groups []GroupInfo `json:"groups"`
}

// GroupUserList lists the members of a group.
type GroupUserList struct {
	GroupID string     `json:"groupId"`
	Users   []UserInfo `json:"users"`
}

// GroupList lists the groups a user belongs to.
type GroupList struct {
	Groups []GroupInfo `json:"groups"`
}
