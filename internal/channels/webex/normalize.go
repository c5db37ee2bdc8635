package webex

import "time"

// RoomType is the closed two-state room classification.
type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

// CanonicalMessage is the normalized, platform-independent representation of
// one chat message used by the ingestion pipeline. Immutable once built.
type CanonicalMessage struct {
	MessageID    string
	RoomID       string
	RoomType     RoomType
	SenderID     string
	SenderEmail  string
	Text         string
	Markdown     string
	Files        []string
	MentionedIDs []string
	CreatedAt    time.Time
	MentionsBot  bool
}

// Normalize converts a full message record into a CanonicalMessage.
// Pure and total: it never fails for a well-formed input. Any room type
// other than the literal "direct" collapses to group, the more restrictive
// branch for unknown values.
func Normalize(msg *Message, botID string) CanonicalMessage {
	roomType := RoomGroup
	if msg.RoomType == "direct" {
		roomType = RoomDirect
	}

	mentionsBot := false
	for _, id := range msg.MentionedPeople {
		if id == botID {
			mentionsBot = true
			break
		}
	}

	return CanonicalMessage{
		MessageID:    msg.ID,
		RoomID:       msg.RoomID,
		RoomType:     roomType,
		SenderID:     msg.PersonID,
		SenderEmail:  msg.PersonEmail,
		Text:         msg.Text,
		Markdown:     msg.Markdown,
		Files:        msg.Files,
		MentionedIDs: msg.MentionedPeople,
		CreatedAt:    msg.Created,
		MentionsBot:  mentionsBot,
	}
}
