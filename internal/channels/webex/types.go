package webex

import "time"

// Person is a Webex person record (GET /people/me, message senders).
type Person struct {
	ID          string   `json:"id"`
	Emails      []string `json:"emails"`
	DisplayName string   `json:"displayName"`
	NickName    string   `json:"nickName,omitempty"`
	Type        string   `json:"type,omitempty"` // "person" or "bot"
}

// Message is a Webex message record.
type Message struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"roomId"`
	RoomType        string    `json:"roomType"` // "direct" or "group"
	PersonID        string    `json:"personId"`
	PersonEmail     string    `json:"personEmail"`
	Text            string    `json:"text,omitempty"`
	Markdown        string    `json:"markdown,omitempty"`
	HTML            string    `json:"html,omitempty"`
	Files           []string  `json:"files,omitempty"`
	MentionedPeople []string  `json:"mentionedPeople,omitempty"`
	Created         time.Time `json:"created"`
}

// Room is a Webex room (space) record.
type Room struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Type         string    `json:"type"` // "direct" or "group"
	LastActivity time.Time `json:"lastActivity"`
	Created      time.Time `json:"created"`
}

// Webhook is a Webex webhook subscription record.
type Webhook struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
	Secret    string `json:"secret,omitempty"`
	Status    string `json:"status,omitempty"`
}

// CreateMessageRequest is the body for POST /messages.
// Exactly one of RoomID, ToPersonID, ToPersonEmail must be set.
type CreateMessageRequest struct {
	RoomID        string   `json:"roomId,omitempty"`
	ToPersonID    string   `json:"toPersonId,omitempty"`
	ToPersonEmail string   `json:"toPersonEmail,omitempty"`
	Text          string   `json:"text,omitempty"`
	Markdown      string   `json:"markdown,omitempty"`
	Files         []string `json:"files,omitempty"`
}

// CreateWebhookRequest is the body for POST /webhooks.
type CreateWebhookRequest struct {
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Resource  string `json:"resource"`
	Event     string `json:"event"`
	Secret    string `json:"secret,omitempty"`
}

// pushEvent is the JSON envelope Webex POSTs to the webhook target.
type pushEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Resource string        `json:"resource"`
	Event    string        `json:"event"`
	Data     pushEventData `json:"data"`
}

// pushEventData carries the resource summary inside a push event.
// For messages.created it has the message ID but not the message text;
// the full message must be fetched separately.
type pushEventData struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"roomId"`
	RoomType        string    `json:"roomType"`
	PersonID        string    `json:"personId"`
	PersonEmail     string    `json:"personEmail"`
	MentionedPeople []string  `json:"mentionedPeople,omitempty"`
	Created         time.Time `json:"created"`
}
