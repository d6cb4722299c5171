// Package channel holds per-channel contact validity rules.
package channel

import (
	"strings"

	"outreach/internal/domain"
)

// Partitioned splits a recipient list by whether a channel can reach them.
type Partitioned struct {
	Valid   []domain.Recipient
	Invalid []domain.Recipient
}

// Deliverable reports whether the contact data is enough to reach someone on ch.
// Unknown channels are treated as deliverable.
func Deliverable(ch domain.Channel, email, phone string) bool {
	switch ch {
	case domain.ChannelEmail:
		e := strings.TrimSpace(email)
		return e != "" && strings.Contains(e, "@")
	case domain.ChannelSMS, domain.ChannelWhatsApp, domain.ChannelTelegram:
		return strings.TrimSpace(phone) != ""
	default:
		return true
	}
}

// Partition keeps input order within each side.
func Partition(recipients []domain.Recipient, ch domain.Channel) Partitioned {
	var out Partitioned
	for _, r := range recipients {
		if Deliverable(ch, r.Email, r.Phone) {
			out.Valid = append(out.Valid, r)
		} else {
			out.Invalid = append(out.Invalid, r)
		}
	}
	return out
}
