package domain

import "time"

type FeedKind string

const (
	KindCalendar     FeedKind = "calendar"
	KindNotification FeedKind = "notification"
	KindQueue        FeedKind = "queue"
)

// AllKinds returns the fixed set of feed kinds. The set never grows at
// runtime.
func AllKinds() []FeedKind {
	return []FeedKind{KindCalendar, KindNotification, KindQueue}
}

// ParseKind validates a caller-supplied kind before any I/O happens.
func ParseKind(s string) (FeedKind, error) {
	switch FeedKind(s) {
	case KindCalendar, KindNotification, KindQueue:
		return FeedKind(s), nil
	}

	return "", &UnknownFeedKindError{Kind: s}
}

type FeedState string

const (
	StatePending FeedState = "pending"
	StateSuccess FeedState = "success"
	StateError   FeedState = "error"
)

type FeedStatus struct {
	Kind      FeedKind   `json:"kind"`
	LastFetch *time.Time `json:"lastFetch"`
	ItemCount int        `json:"itemCount"`
	State     FeedState  `json:"state"`
	Error     string     `json:"error,omitempty"`
}

type EntrySummary struct {
	Kind      FeedKind  `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Size      int       `json:"sizeBytes"`
}

type Statistics struct {
	Statuses     []FeedStatus   `json:"feedStatuses"`
	Entries      []EntrySummary `json:"cacheEntries"`
	TotalEntries int            `json:"totalCacheEntries"`
}
