// Package rss turns cached Radarr payloads into persisted RSS 2.0
// documents, one per feed kind.
package rss

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"radarss/internal/domain"
	"radarss/internal/radarr"
)

const (
	placeholderLink = "https://radarr.video"
	imdbURLFormat   = "https://www.imdb.com/title/%s/"

	channelLanguage  = "en-us"
	channelEditor    = "radarss@localhost (radarss)"
	channelWebMaster = "radarss@localhost (radarss)"
	channelGenerator = "radarss"

	maxGenreCategories = 3
)

type channelMeta struct {
	title       string
	description string
	link        string
}

var channelByKind = map[domain.FeedKind]channelMeta{
	domain.KindCalendar: {
		title:       "Radarr Upcoming Releases",
		description: "Movies releasing soon, from the Radarr calendar",
		link:        placeholderLink,
	},
	domain.KindNotification: {
		title:       "Radarr Notifications",
		description: "Notification connections configured in Radarr",
		link:        placeholderLink,
	},
	domain.KindQueue: {
		title:       "Radarr Download Queue",
		description: "Downloads currently in the Radarr queue",
		link:        placeholderLink,
	},
}

// Materializer renders payloads and owns the on-disk artifacts.
type Materializer struct {
	dir string
	now func() time.Time
	log *slog.Logger
}

func New(dir string, log *slog.Logger) (*Materializer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StorageError{Op: "mkdir-feed-dir", Err: err}
	}

	return &Materializer{
		dir: dir,
		now: time.Now,
		log: log,
	}, nil
}

// Materialize builds the RSS document for one kind from the raw cached
// payload. An empty or absent payload yields a channel with zero items.
func (m *Materializer) Materialize(kind domain.FeedKind, payload []byte) (*Document, error) {
	meta, ok := channelByKind[kind]
	if !ok {
		return nil, &domain.UnknownFeedKindError{Kind: string(kind)}
	}

	now := m.now()

	var (
		items []rssItem
		err   error
	)

	switch kind {
	case domain.KindCalendar:
		items, err = m.calendarItems(payload, now)
	case domain.KindNotification:
		items, err = m.notificationItems(payload, now)
	case domain.KindQueue:
		items, err = m.queueItems(payload, now)
	}
	if err != nil {
		return nil, err
	}

	envelope := rssEnvelope{
		Version: "2.0",
		Channel: rssChannel{
			Title:          meta.title,
			Link:           meta.link,
			Description:    meta.description,
			Language:       channelLanguage,
			Copyright:      fmt.Sprintf("© %d radarss", now.Year()),
			ManagingEditor: channelEditor,
			WebMaster:      channelWebMaster,
			LastBuildDate:  now.Format(time.RFC1123Z),
			Generator:      channelGenerator,
			Categories:     []string{"Movies", "Radarr"},
			Items:          items,
		},
	}

	out, err := envelope.marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal RSS document: %w", err)
	}

	return &Document{Bytes: out, ItemCount: len(items)}, nil
}

func (m *Materializer) calendarItems(payload []byte, now time.Time) ([]rssItem, error) {
	movies, err := decodeList[radarr.Movie](payload)
	if err != nil {
		return nil, fmt.Errorf("decode calendar payload: %w", err)
	}

	items := make([]rssItem, 0, len(movies))
	for _, movie := range movies {
		title := movie.Title
		if title == "" {
			title = "Unknown Movie"
		}

		link := placeholderLink
		if movie.ImdbID != "" {
			link = fmt.Sprintf(imdbURLFormat, movie.ImdbID)
		}

		pubDate := now
		switch {
		case movie.DigitalRelease != nil:
			pubDate = *movie.DigitalRelease
		case movie.PhysicalRelease != nil:
			pubDate = *movie.PhysicalRelease
		case movie.InCinemas != nil:
			pubDate = *movie.InCinemas
		}

		var desc descriptionBuilder
		desc.add("Overview", movie.Overview)
		if movie.Year > 0 {
			desc.add("Year", fmt.Sprintf("%d", movie.Year))
		}
		desc.add("Status", movie.Status)
		desc.addDate("In Cinemas", movie.InCinemas)
		desc.addDate("Digital Release", movie.DigitalRelease)
		desc.addDate("Physical Release", movie.PhysicalRelease)
		desc.add("Genres", strings.Join(movie.Genres, ", "))

		categories := []string{"Movie"}
		if movie.Status != "" {
			categories = append(categories, movie.Status)
		}
		for i, genre := range movie.Genres {
			if i == maxGenreCategories {
				break
			}
			categories = append(categories, genre)
		}

		items = append(items, rssItem{
			Title:       title,
			Link:        link,
			Description: desc.String(),
			Guid:        guid("calendar", movie.ID, now),
			PubDate:     pubDate.Format(time.RFC1123Z),
			Categories:  categories,
		})
	}

	return items, nil
}

func (m *Materializer) notificationItems(payload []byte, now time.Time) ([]rssItem, error) {
	notifications, err := decodeList[radarr.Notification](payload)
	if err != nil {
		return nil, fmt.Errorf("decode notification payload: %w", err)
	}

	items := make([]rssItem, 0, len(notifications))
	for _, notification := range notifications {
		title := notification.Name
		if title == "" {
			title = "System Notification"
		}

		var desc descriptionBuilder
		desc.add("Implementation", notification.Implementation)
		if len(notification.Fields) > 0 {
			desc.add("Configured Fields", fmt.Sprintf("%d", len(notification.Fields)))
		}
		desc.add("Contract", notification.ConfigContract)

		categories := []string{"Notification"}
		if notification.Implementation != "" {
			categories = append(categories, notification.Implementation)
		}

		items = append(items, rssItem{
			Title:       title,
			Link:        placeholderLink,
			Description: desc.String(),
			Guid:        guid("notification", notification.ID, now),
			PubDate:     now.Format(time.RFC1123Z),
			Categories:  categories,
		})
	}

	return items, nil
}

func (m *Materializer) queueItems(payload []byte, now time.Time) ([]rssItem, error) {
	queue, err := decodeList[radarr.QueueItem](payload)
	if err != nil {
		return nil, fmt.Errorf("decode queue payload: %w", err)
	}

	items := make([]rssItem, 0, len(queue))
	for _, item := range queue {
		movieTitle := "Unknown Movie"
		if item.Movie != nil && item.Movie.Title != "" {
			movieTitle = item.Movie.Title
		}

		status := item.Status
		if status == "" {
			status = "Unknown Status"
		}

		link := placeholderLink
		if item.Movie != nil && item.Movie.ImdbID != "" {
			link = fmt.Sprintf(imdbURLFormat, item.Movie.ImdbID)
		}

		pubDate := now
		if item.Added != nil {
			pubDate = *item.Added
		}

		var desc descriptionBuilder
		desc.add("Status", item.Status)
		if item.Size != nil && item.SizeLeft != nil && *item.Size > 0 {
			progress := (*item.Size - *item.SizeLeft) / *item.Size * 100
			desc.add("Progress", fmt.Sprintf("%.1f%%", progress))
		}
		if item.Quality != nil {
			desc.add("Quality", item.Quality.Quality.Name)
		}
		desc.add("Protocol", item.Protocol)
		desc.add("Indexer", item.Indexer)
		if item.Movie != nil {
			desc.add("Overview", item.Movie.Overview)
		}

		categories := []string{"Queue"}
		if item.Status != "" {
			categories = append(categories, item.Status)
		}

		items = append(items, rssItem{
			Title:       fmt.Sprintf("%s - %s", movieTitle, status),
			Link:        link,
			Description: desc.String(),
			Guid:        guid("queue", item.ID, now),
			PubDate:     pubDate.Format(time.RFC1123Z),
			Categories:  categories,
		})
	}

	return items, nil
}

func decodeList[T any](payload []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var list []T
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}

	return list, nil
}

// guid falls back to the materialization timestamp when the upstream
// record has no id. Uniqueness then only holds within one document,
// which is all RSS requires.
func guid(prefix string, id int64, now time.Time) string {
	if id > 0 {
		return fmt.Sprintf("%s-%d", prefix, id)
	}

	return fmt.Sprintf("%s-%d", prefix, now.UnixNano())
}

// descriptionBuilder assembles the item description as labeled HTML
// paragraphs. Values are entity-escaped before embedding; the XML layer
// escapes the fragment once more on serialization.
type descriptionBuilder struct {
	sb strings.Builder
}

func (d *descriptionBuilder) add(label string, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}

	fmt.Fprintf(&d.sb, "<p><b>%s:</b> %s</p>", label, html.EscapeString(value))
}

func (d *descriptionBuilder) addDate(label string, t *time.Time) {
	if t == nil {
		return
	}

	d.add(label, t.Format("2006-01-02"))
}

func (d *descriptionBuilder) String() string {
	return d.sb.String()
}

// Write persists the document as the servable artifact for kind,
// replacing any prior version atomically so readers never observe a
// partial file.
func (m *Materializer) Write(kind domain.FeedKind, doc *Document) error {
	tmp, err := os.CreateTemp(m.dir, string(kind)+"-*.xml")
	if err != nil {
		return &domain.StorageError{Op: "write-artifact", Err: err}
	}

	if _, err = tmp.Write(doc.Bytes); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &domain.StorageError{Op: "write-artifact", Err: err}
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &domain.StorageError{Op: "write-artifact", Err: err}
	}

	if err = os.Rename(tmp.Name(), m.artifactPath(kind)); err != nil {
		os.Remove(tmp.Name())
		return &domain.StorageError{Op: "write-artifact", Err: err}
	}

	return nil
}

// Read returns the current artifact bytes for kind, or ok=false when no
// materialization has succeeded yet.
func (m *Materializer) Read(kind domain.FeedKind) ([]byte, bool, error) {
	body, err := os.ReadFile(m.artifactPath(kind))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &domain.StorageError{Op: "read-artifact", Err: err}
	}

	return body, true, nil
}

func (m *Materializer) artifactPath(kind domain.FeedKind) string {
	return filepath.Join(m.dir, string(kind)+".xml")
}
