package radarr

import "time"

// Movie is a calendar entry as returned by /api/v3/calendar.
type Movie struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Overview        string     `json:"overview"`
	Year            int        `json:"year"`
	Status          string     `json:"status"`
	ImdbID          string     `json:"imdbId"`
	Genres          []string   `json:"genres"`
	InCinemas       *time.Time `json:"inCinemas"`
	DigitalRelease  *time.Time `json:"digitalRelease"`
	PhysicalRelease *time.Time `json:"physicalRelease"`
}

// Notification is a configured notification connection from
// /api/v3/notification.
type Notification struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	Implementation string              `json:"implementation"`
	ConfigContract string              `json:"configContract"`
	Fields         []NotificationField `json:"fields"`
}

type NotificationField struct {
	Name string `json:"name"`
}

// QueueItem is one download from /api/v3/queue. The endpoint answers
// either with a bare array or a paginated {records: [...]} envelope;
// the client normalizes both to a plain list.
type QueueItem struct {
	ID       int64      `json:"id"`
	Status   string     `json:"status"`
	Size     *float64   `json:"size"`
	SizeLeft *float64   `json:"sizeleft"`
	Added    *time.Time `json:"added"`
	Protocol string     `json:"protocol"`
	Indexer  string     `json:"indexer"`
	Quality  *Quality   `json:"quality"`
	Movie    *QueueMovie `json:"movie"`
}

type Quality struct {
	Quality QualityName `json:"quality"`
}

type QualityName struct {
	Name string `json:"name"`
}

type QueueMovie struct {
	Title    string `json:"title"`
	Overview string `json:"overview"`
	ImdbID   string `json:"imdbId"`
}
