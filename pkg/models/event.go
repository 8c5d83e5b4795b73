package models

import "strings"

const (
	KindNostrConnect          = 24133
	KindWalletRequest         = 23194
	KindWalletResponse        = 23195
	KindWalletNotification    = 23196
	KindWalletNotificationV2  = 23197
	MaxEventContentPreviewLen = 80
)

// Event is a NIP-01 event as exchanged with relays.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// UnsignedEvent is the template a remote client hands over for signing.
type UnsignedEvent struct {
	Kind      int        `json:"kind"`
	Content   string     `json:"content"`
	Tags      [][]string `json:"tags"`
	CreatedAt int64      `json:"created_at"`
	PubKey    string     `json:"pubkey,omitempty"`
}

// Filter selects events in a REQ subscription.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	ETags   []string `json:"#e,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// TagValue returns the first value of the first tag named name.
func (e Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns the first value of every tag named name.
func (e Event) TagValues(name string) []string {
	out := make([]string, 0, 1)
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// Matches reports whether the event satisfies every populated field of f.
func (f Filter) Matches(e Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if len(f.PTags) > 0 && !anyString(f.PTags, e.TagValues("p")) {
		return false
	}
	if len(f.ETags) > 0 && !anyString(f.ETags, e.TagValues("e")) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	return true
}

// Preview shortens content for display on a confirmation prompt.
func Preview(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= MaxEventContentPreviewLen {
		return content
	}
	return string(runes[:MaxEventContentPreviewLen]) + "…"
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func anyString(want, have []string) bool {
	for _, h := range have {
		if containsString(want, h) {
			return true
		}
	}
	return false
}
