package protocol

// ValidateUser is the handshake a connection sends before anything else.
type ValidateUser struct {
	UserID        string `json:"userId"`
	ConnectionKey string `json:"connectionKey"`
}

// Event implements Inbound.
func (*ValidateUser) Event() string { return EventValidateUser }
func (m *ValidateUser) validate() error {
	return required("userId", m.UserID, "connectionKey", m.ConnectionKey)
}

// Local is a broadcast carrying positional metadata the relay does not interpret.
type Local struct {
	Msg string  `json:"msg"`
	Map string  `json:"map"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
}

// Event implements Inbound.
func (*Local) Event() string     { return EventLocal }
func (m *Local) validate() error { return required("msg", m.Msg) }

// Global is a broadcast to every online user.
type Global struct {
	Msg string `json:"msg"`
}

// Event implements Inbound.
func (*Global) Event() string     { return EventGlobal }
func (m *Global) validate() error { return required("msg", m.Msg) }

// Whisper targets a user by display name.
type Whisper struct {
	TargetName string `json:"targetName"`
	Msg        string `json:"msg"`
}

// Event implements Inbound.
func (*Whisper) Event() string { return EventWhisper }
func (m *Whisper) validate() error {
	return required("targetName", m.TargetName, "msg", m.Msg)
}

// WhisperByID targets a user by id.
type WhisperByID struct {
	TargetUserID string `json:"targetUserId"`
	Msg          string `json:"msg"`
}

// Event implements Inbound.
func (*WhisperByID) Event() string { return EventWhisperByID }
func (m *WhisperByID) validate() error {
	return required("targetUserId", m.TargetUserID, "msg", m.Msg)
}

// GroupMessage is a message to every online member of a group.
type GroupMessage struct {
	GroupID string `json:"groupId"`
	Msg     string `json:"msg"`
}

// Event implements Inbound.
func (*GroupMessage) Event() string { return EventGroup }
func (m *GroupMessage) validate() error {
	return required("groupId", m.GroupID, "msg", m.Msg)
}

// CreateGroup asks for a new group owned by the sender.
type CreateGroup struct {
	Title   string `json:"title"`
	IconURL string `json:"iconUrl"`
}

// Event implements Inbound.
func (*CreateGroup) Event() string     { return EventCreateGroup }
func (m *CreateGroup) validate() error { return required("title", m.Title) }

// UpdateGroup changes a group's title and icon.
type UpdateGroup struct {
	GroupID string `json:"groupId"`
	Title   string `json:"title"`
	IconURL string `json:"iconUrl"`
}

// Event implements Inbound.
func (*UpdateGroup) Event() string { return EventUpdateGroup }
func (m *UpdateGroup) validate() error {
	return required("groupId", m.GroupID, "title", m.Title)
}

// GroupInvite invites UserID into GroupID.
type GroupInvite struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

// Event implements Inbound.
func (*GroupInvite) Event() string { return EventGroupInvite }
func (m *GroupInvite) validate() error {
	return required("userId", m.UserID, "groupId", m.GroupID)
}

// GroupInviteAccept accepts the sender's invitation to GroupID.
type GroupInviteAccept struct {
	GroupID string `json:"groupId"`
}

// Event implements Inbound.
func (*GroupInviteAccept) Event() string     { return EventGroupInviteAccept }
func (m *GroupInviteAccept) validate() error { return required("groupId", m.GroupID) }

// GroupInviteDecline declines the sender's invitation to GroupID.
type GroupInviteDecline struct {
	GroupID string `json:"groupId"`
}

// Event implements Inbound.
func (*GroupInviteDecline) Event() string     { return EventGroupInviteDecline }
func (m *GroupInviteDecline) validate() error { return required("groupId", m.GroupID) }

// LeaveGroup removes the sender from GroupID.
type LeaveGroup struct {
	GroupID string `json:"groupId"`
}

// Event implements Inbound.
func (*LeaveGroup) Event() string     { return EventLeaveGroup }
func (m *LeaveGroup) validate() error { return required("groupId", m.GroupID) }

// KickUser removes UserID from GroupID on behalf of the sender.
type KickUser struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

// Event implements Inbound.
func (*KickUser) Event() string { return EventKickUser }
func (m *KickUser) validate() error {
	return required("userId", m.UserID, "groupId", m.GroupID)
}

// GroupInvitationListRequest asks for the sender's pending invitations.
type GroupInvitationListRequest struct{}

// Event implements Inbound.
func (*GroupInvitationListRequest) Event() string   { return EventGroupInvitationList }
func (*GroupInvitationListRequest) validate() error { return nil }

// GroupUserListRequest asks for the members of GroupID.
type GroupUserListRequest struct {
	GroupID string `json:"groupId"`
}

// Event implements Inbound.
func (*GroupUserListRequest) Event() string     { return EventGroupUserList }
func (m *GroupUserListRequest) validate() error { return required("groupId", m.GroupID) }

// GroupListRequest asks for the groups the sender belongs to.
type GroupListRequest struct{}

// Event implements Inbound.
func (*GroupListRequest) Event() string   { return EventGroupList }
func (*GroupListRequest) validate() error { return nil }
