// ABOUTME: WhatsApp Cloud API webhook notification payload types
// ABOUTME: Flattens entry/changes/messages into the text messages the gateway answers

package whatsapp

import (
	"strconv"
	"time"
)

// ObjectBusinessAccount is the object type of WhatsApp notifications.
const ObjectBusinessAccount = "whatsapp_business_account"

// Notification is the body of a webhook POST.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// InboundText is a text message ready to be answered.
type InboundText struct {
	ID          string
	From        string
	ProfileName string
	Body        string
	SentAt      time.Time
}

// TextMessages returns every text message in the notification, in order.
// Status updates and non-text messages are skipped.
func (n *Notification) TextMessages() []InboundText {
	var out []InboundText
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.Type != "text" || m.Text == nil || m.Text.Body == "" {
					continue
				}
				out = append(out, InboundText{
					ID:          m.ID,
					From:        m.From,
					ProfileName: names[m.From],
					Body:        m.Text.Body,
					SentAt:      parseUnix(m.Timestamp),
				})
			}
		}
	}
	return out
}

func parseUnix(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
