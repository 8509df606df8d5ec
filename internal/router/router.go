// Package router fans chat messages out to live sessions. Every message
// requires a live sender session; anything that cannot be delivered is
// dropped without telling the sender.
package router

import (
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/profanity"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/session"
	"go.uber.org/zap"
)

// Sessions resolves live sessions.
type Sessions interface {
	Lookup(userID string) *session.Session
	LookupByName(name string) *session.Session
	All() []*session.Session
}

// Members answers online-membership questions.
type Members interface {
	IsMember(groupID, userID string) bool
	Members(groupID string) []string
}

// Router delivers messages. Text is filtered once per recipient send.
type Router struct {
	sessions Sessions
	members  Members
	filter   profanity.Filter
	log      *zap.Logger
}

// New creates a Router. A nil filter passes text through unchanged.
func New(sessions Sessions, members Members, filter profanity.Filter, logger *zap.Logger) *Router {
	if filter == nil {
		filter = profanity.Identity
	}
	return &Router{
		sessions: sessions,
		members:  members,
		filter:   filter,
		log:      logging.DefaultIfNil(logger),
	}
}

// Local broadcasts a positional message to every online session and
// returns the number of recipients.
func (r *Router) Local(senderID string, in protocol.Local) int {
	sender := r.sender(senderID, protocol.EventLocal)
	if sender == nil {
		return 0
	}
	return r.fanOut(r.sessions.All(), protocol.EventLocal, func() any {
		return protocol.LocalOut{
			UserID: sender.UserID,
			Name:   sender.Name,
			Msg:    r.filter.Clean(in.Msg),
			Map:    in.Map,
			X:      in.X,
			Y:      in.Y,
			Z:      in.Z,
		}
	})
}

// Global broadcasts msg to every online session and returns the number of
// recipients.
func (r *Router) Global(senderID, msg string) int {
	sender := r.sender(senderID, protocol.EventGlobal)
	if sender == nil {
		return 0
	}
	return r.fanOut(r.sessions.All(), protocol.EventGlobal, func() any {
		return protocol.GlobalOut{
			UserID: sender.UserID,
			Name:   sender.Name,
			Msg:    r.filter.Clean(msg),
		}
	})
}

// Whisper delivers msg to the session registered under targetName and
// echoes it to the sender.
func (r *Router) Whisper(senderID, targetName, msg string) int {
	sender := r.sender(senderID, protocol.EventWhisper)
	if sender == nil {
		return 0
	}
	return r.whisper(protocol.EventWhisper, sender, r.sessions.LookupByName(targetName), msg)
}

// WhisperByID delivers msg to targetID's session and echoes it to the
// sender under the whisper-by-id event.
func (r *Router) WhisperByID(senderID, targetID, msg string) int {
	sender := r.sender(senderID, protocol.EventWhisperByID)
	if sender == nil {
		return 0
	}
	return r.whisper(protocol.EventWhisperByID, sender, r.sessions.Lookup(targetID), msg)
}

// Group delivers msg to every online member of groupID, sender included.
// The sender must be an online member.
func (r *Router) Group(senderID, groupID, msg string) int {
	sender := r.sender(senderID, protocol.EventGroup)
	if sender == nil {
		return 0
	}
	if !r.members.IsMember(groupID, senderID) {
		r.log.Debug("group message from non-member dropped",
			zap.String("user_id", senderID),
			zap.String("group_id", groupID))
		return 0
	}

	var recipients []*session.Session
	for _, id := range r.members.Members(groupID) {
		if s := r.sessions.Lookup(id); s != nil {
			recipients = append(recipients, s)
		}
	}
	return r.fanOut(recipients, protocol.EventGroup, func() any {
		return protocol.GroupOut{
			GroupID: groupID,
			UserID:  sender.UserID,
			Name:    sender.Name,
			Msg:     r.filter.Clean(msg),
		}
	})
}

func (r *Router) whisper(event string, sender, target *session.Session, msg string) int {
	if target == nil {
		r.log.Debug("whisper target not online", zap.String("user_id", sender.UserID))
		return 0
	}

	recipients := []*session.Session{target}
	if target != sender {
		recipients = append(recipients, sender)
	}
	return r.fanOut(recipients, event, func() any {
		return protocol.WhisperOut{
			UserID:  sender.UserID,
			UserID2: target.UserID,
			Name:    sender.Name,
			Name2:   target.Name,
			Msg:     r.filter.Clean(msg),
		}
	})
}

func (r *Router) sender(userID, event string) *session.Session {
	s := r.sessions.Lookup(userID)
	if s == nil {
		r.log.Debug("message without session dropped",
			zap.String("event", event),
			zap.String("user_id", userID))
	}
	return s
}

// fanOut builds a payload per recipient so the filter runs on every send.
func (r *Router) fanOut(recipients []*session.Session, event string, payload func() any) int {
	delivered := 0
	for _, s := range recipients {
		frame, err := protocol.Encode(event, payload())
		if err != nil {
			r.log.Error("encode event", zap.String("event", event), zap.Error(err))
			return delivered
		}
		if s.Send(frame) {
			delivered++
		}
	}
	return delivered
}
