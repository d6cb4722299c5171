package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StringSet decodes from either a single JSON string or an array of strings.
type StringSet []string

func (s *StringSet) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = StringSet{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("%w: expected string or array of strings", ErrValidation)
	}
	*s = many
	return nil
}

func (s StringSet) Contains(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

type TagMode string

const (
	TagMatchAny   TagMode = "any"
	TagMatchAll   TagMode = "all"
	TagMatchExact TagMode = "exact"
)

// AudienceFilter is a structured predicate over a tenant's recipients.
// Nil or empty fields place no constraint; present fields are AND-ed.
type AudienceFilter struct {
	Status   StringSet `json:"status,omitempty"`
	Priority StringSet `json:"priority,omitempty"`
	City     string    `json:"city,omitempty"`
	Country  string    `json:"country,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	TagMode  TagMode   `json:"tagMode,omitempty"`
	HasEmail *bool     `json:"hasEmail,omitempty"`
	HasPhone *bool     `json:"hasPhone,omitempty"`
}

// Validate rejects filters the resolver cannot evaluate unambiguously.
// Tag filtering has no default mode: callers must pick one.
func (f AudienceFilter) Validate() error {
	for _, v := range f.Status {
		if strings.TrimSpace(v) == "" {
			return validationf("status filter contains a blank value")
		}
	}
	for _, v := range f.Priority {
		if strings.TrimSpace(v) == "" {
			return validationf("priority filter contains a blank value")
		}
	}
	if len(f.Tags) > 0 {
		switch f.TagMode {
		case TagMatchAny, TagMatchAll, TagMatchExact:
		case "":
			return validationf("tags filter requires tagMode (any, all or exact)")
		default:
			return validationf("unknown tagMode %q", f.TagMode)
		}
	}
	return nil
}

// Matches evaluates the filter against one recipient.
func (f AudienceFilter) Matches(r Recipient) bool {
	if len(f.Status) > 0 && !f.Status.Contains(r.Status) {
		return false
	}
	if len(f.Priority) > 0 && !f.Priority.Contains(r.Priority) {
		return false
	}
	if f.City != "" && !strings.EqualFold(f.City, r.City) {
		return false
	}
	if f.Country != "" && !strings.EqualFold(f.Country, r.Country) {
		return false
	}
	if f.HasEmail != nil && *f.HasEmail != (strings.TrimSpace(r.Email) != "") {
		return false
	}
	if f.HasPhone != nil && *f.HasPhone != (strings.TrimSpace(r.Phone) != "") {
		return false
	}
	if len(f.Tags) > 0 && !f.matchTags(r.Tags) {
		return false
	}
	return true
}

func (f AudienceFilter) matchTags(have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	switch f.TagMode {
	case TagMatchAny:
		for _, t := range f.Tags {
			if _, ok := set[t]; ok {
				return true
			}
		}
		return false
	case TagMatchAll, TagMatchExact:
		want := make(map[string]struct{}, len(f.Tags))
		for _, t := range f.Tags {
			if _, ok := set[t]; !ok {
				return false
			}
			want[t] = struct{}{}
		}
		if f.TagMode == TagMatchExact {
			for t := range set {
				if _, ok := want[t]; !ok {
					return false
				}
			}
		}
		return true
	}
	return false
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
