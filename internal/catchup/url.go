package catchup

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"
)

// StartLayout is the start-time format catchup servers expect in the path.
const StartLayout = "2006-01-02:15-04"

const DefaultDuration = 30

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrMissingArchiveBase = errors.New("archive base URL is required")
	ErrInvalidStream      = errors.New("invalid stream id")
	ErrInvalidDuration    = errors.New("duration must be a positive number of minutes")
)

// Recording identifies one catchup programme. Start is the wall-clock time
// shown in the guide; its location is ignored.
type Recording struct {
	StreamID string
	Name     string
	Start    time.Time
	Duration int
}

// Link is a generated catchup URL together with the start time that was
// actually requested from the server.
type Link struct {
	URL         string
	ServerStart time.Time
	BSTAdjusted bool
}

type Builder struct {
	archiveBase string
	username    string
	password    string
	london      *time.Location
}

func NewBuilder(archiveBase, username, password string) (*Builder, error) {
	archiveBase = strings.TrimRight(strings.TrimSpace(archiveBase), "/")
	if archiveBase == "" {
		return nil, ErrMissingArchiveBase
	}
	if _, err := url.ParseRequestURI(archiveBase); err != nil {
		return nil, fmt.Errorf("invalid archive base URL: %w", err)
	}
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		return nil, fmt.Errorf("error loading Europe/London zone: %w", err)
	}
	return &Builder{
		archiveBase: archiveBase,
		username:    username,
		password:    password,
		london:      london,
	}, nil
}

// IsBST reports whether the wall-clock time falls in British Summer Time.
func (b *Builder) IsBST(t time.Time) bool {
	return wallClock(t, b.london).IsDST()
}

// Build returns {archiveBase}/{user}/{pass}/{minutes}/{YYYY-MM-DD:HH-MM}/{stream}.ts.
// Servers index their archive in GMT, so summer times are moved back an hour.
func (b *Builder) Build(rec Recording) (Link, error) {
	id := strings.TrimSpace(rec.StreamID)
	if id == "" || strings.ContainsAny(id, "/?#") {
		return Link{}, fmt.Errorf("%w: %q", ErrInvalidStream, rec.StreamID)
	}
	if rec.Duration <= 0 {
		return Link{}, ErrInvalidDuration
	}
	start := time.Date(rec.Start.Year(), rec.Start.Month(), rec.Start.Day(), rec.Start.Hour(), rec.Start.Minute(), 0, 0, time.UTC)
	bst := b.IsBST(rec.Start)
	if bst {
		start = start.Add(-time.Hour)
	}
	link := fmt.Sprintf("%s/%s/%s/%d/%s/%s.ts",
		b.archiveBase,
		url.PathEscape(b.username),
		url.PathEscape(b.password),
		rec.Duration,
		start.Format(StartLayout),
		url.PathEscape(id),
	)
	return Link{URL: link, ServerStart: start, BSTAdjusted: bst}, nil
}

// Redact hides the credential path segments of a generated URL.
func (b *Builder) Redact(link string) string {
	return strings.Replace(link, "/"+url.PathEscape(b.username)+"/"+url.PathEscape(b.password)+"/", "/***/***/", 1)
}

func wallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
