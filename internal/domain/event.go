package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventName identifies a domain event in the closed webhook vocabulary.
type EventName string

const (
	EventPostCreated    EventName = "post.created"
	EventPostLiked      EventName = "post.liked"
	EventCommentCreated EventName = "comment.created"
	EventFollowCreated  EventName = "follow.created"
	EventMentionCreated EventName = "mention.created"
)

var ErrUnknownEvent = errors.New("domain: unknown event")

var eventNames = []EventName{
	EventPostCreated,
	EventPostLiked,
	EventCommentCreated,
	EventFollowCreated,
	EventMentionCreated,
}

// EventNames returns the full event vocabulary in a stable order.
func EventNames() []EventName {
	out := make([]EventName, len(eventNames))
	copy(out, eventNames)
	return out
}

// IsKnownEvent reports whether name belongs to the vocabulary.
func IsKnownEvent(name string) bool {
	for _, known := range eventNames {
		if string(known) == name {
			return true
		}
	}
	return false
}

// Event is the payload of a domain event. The set of implementations is closed.
type Event interface {
	Name() EventName
	event()
}

type PostCreated struct {
	PostID   string `json:"post_id"`
	AuthorID string `json:"author_id"`
	Caption  string `json:"caption,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type PostLiked struct {
	PostID  string `json:"post_id"`
	LikerID string `json:"liker_id"`
}

type CommentCreated struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content,omitempty"`
}

type FollowCreated struct {
	FollowerID string `json:"follower_id"`
	FolloweeID string `json:"followee_id"`
}

type MentionCreated struct {
	PostID      string `json:"post_id"`
	CommentID   string `json:"comment_id,omitempty"`
	MentionedBy string `json:"mentioned_by"`
}

func (PostCreated) Name() EventName    { return EventPostCreated }
func (PostLiked) Name() EventName      { return EventPostLiked }
func (CommentCreated) Name() EventName { return EventCommentCreated }
func (FollowCreated) Name() EventName  { return EventFollowCreated }
func (MentionCreated) Name() EventName { return EventMentionCreated }

func (PostCreated) event()    {}
func (PostLiked) event()      {}
func (CommentCreated) event() {}
func (FollowCreated) event()  {}
func (MentionCreated) event() {}

// DecodeEvent builds the typed payload for name from its JSON data.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	var target Event
	switch EventName(name) {
	case EventPostCreated:
		target = &PostCreated{}
	case EventPostLiked:
		target = &PostLiked{}
	case EventCommentCreated:
		target = &CommentCreated{}
	case EventFollowCreated:
		target = &FollowCreated{}
	case EventMentionCreated:
		target = &MentionCreated{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, target); err != nil {
			return nil, fmt.Errorf("domain: decode %s payload: %w", name, err)
		}
	}

	switch ev := target.(type) {
	case *PostCreated:
		return *ev, nil
	case *PostLiked:
		return *ev, nil
	case *CommentCreated:
		return *ev, nil
	case *FollowCreated:
		return *ev, nil
	case *MentionCreated:
		return *ev, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}
