package relay

import "tgwabridge/internal/domain"

// Notifications holds the one-line texts sent back to the originating side
// when a relay fails.
type Notifications struct {
	// Sent to the WhatsApp user when relaying their message fails.
	UserUnsupported string
	UserMedia       string
	UserDelivery    string

	// Sent to the group, as a reply to the operator's message.
	GroupUnsupported  string
	GroupMedia        string
	GroupDelivery     string
	GroupMissingPhone string
}

func DefaultNotifications() Notifications {
	return Notifications{
		UserUnsupported:   "This type of content cannot be forwarded to our operators",
		UserMedia:         "Error uploading media, please contact our operators in another way",
		UserDelivery:      "I can't send a message, please contact our operators in another way",
		GroupUnsupported:  "Content error",
		GroupMedia:        "Error uploading media",
		GroupDelivery:     "Error sending message",
		GroupMissingPhone: "Phone number not found",
	}
}

// withDefaults fills empty texts from DefaultNotifications.
func (n Notifications) withDefaults() Notifications {
	d := DefaultNotifications()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&n.UserUnsupported, d.UserUnsupported)
	fill(&n.UserMedia, d.UserMedia)
	fill(&n.UserDelivery, d.UserDelivery)
	fill(&n.GroupUnsupported, d.GroupUnsupported)
	fill(&n.GroupMedia, d.GroupMedia)
	fill(&n.GroupDelivery, d.GroupDelivery)
	fill(&n.GroupMissingPhone, d.GroupMissingPhone)
	return n
}

// ForUser returns the text for a failed WhatsApp -> Telegram relay. Malformed
// payloads are never reported.
func (n Notifications) ForUser(kind domain.ErrorKind) (string, bool) {
	switch kind {
	case domain.KindUnsupportedContent:
		return n.UserUnsupported, true
	case domain.KindMediaFetch, domain.KindMediaUpload:
		return n.UserMedia, true
	case domain.KindDeliverySend, domain.KindStoreUnavailable, domain.KindMissingPhoneNumber:
		return n.UserDelivery, true
	default:
		return "", false
	}
}

// ForGroup returns the text for a failed Telegram -> WhatsApp relay.
func (n Notifications) ForGroup(kind domain.ErrorKind) (string, bool) {
	switch kind {
	case domain.KindUnsupportedContent:
		return n.GroupUnsupported, true
	case domain.KindMediaFetch, domain.KindMediaUpload:
		return n.GroupMedia, true
	case domain.KindDeliverySend, domain.KindStoreUnavailable:
		return n.GroupDelivery, true
	case domain.KindMissingPhoneNumber:
		return n.GroupMissingPhone, true
	default:
		return "", false
	}
}

// IsGroupNotification reports whether text is one of the group-side error
// texts. Replies to those carry no phone number and are ignored.
func (n Notifications) IsGroupNotification(text string) bool {
	switch text {
	case n.GroupUnsupported, n.GroupMedia, n.GroupDelivery, n.GroupMissingPhone:
		return text != ""
	}
	return false
}
