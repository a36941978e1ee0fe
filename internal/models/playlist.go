package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/desertthunder/mixtape/internal/shared"
)

// Frequency is how often a playlist auto-updates.
type Frequency string

const (
	Never   Frequency = "none"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// RefreshMode is the diff-application policy of a refresh.
type RefreshMode string

const (
	// Append adds selected tracks that are not already on the playlist.
	Append RefreshMode = "append"
	// Replace removes every current track and adds the selection.
	Replace RefreshMode = "replace"
)

// Trigger records what started a refresh.
type Trigger string

const (
	ManualTrigger Trigger = "manual"
	AutoTrigger   Trigger = "auto"
)

// ParseFrequency defaults the empty string to [Never].
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Never, nil
	case Never, Daily, Weekly, Monthly:
		return f, nil
	}
	return "", fmt.Errorf("%w: frequency %q", shared.ErrInvalidArgument, s)
}

// ParseRefreshMode defaults the empty string to [Append].
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch m := RefreshMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Append, nil
	case Append, Replace:
		return m, nil
	}
	return "", fmt.Errorf("%w: mode %q", shared.ErrInvalidArgument, s)
}

// ContentFlags constrain generation.
type ContentFlags struct {
	AllowExplicit  bool `json:"allowExplicit"`
	NewArtistsOnly bool `json:"newArtistsOnly"`
}

// AutoUpdateConfig schedules recurring refreshes of a committed playlist.
type AutoUpdateConfig struct {
	Frequency  Frequency   `json:"frequency"`
	Mode       RefreshMode `json:"mode"`
	TimeOfDay  string      `json:"timeOfDay"` // HH:MM, 24h clock
	Timezone   string      `json:"timezone"`  // IANA zone name
	Visibility Visibility  `json:"visibility"`
}

// Enabled reports whether the playlist is scheduled at all.
func (c AutoUpdateConfig) Enabled() bool {
	return c.Frequency != "" && c.Frequency != Never
}

// Normalize fills unset fields with defaults (never, append, 09:00, UTC, private).
func (c AutoUpdateConfig) Normalize() AutoUpdateConfig {
	if c.Frequency == "" {
		c.Frequency = Never
	}
	if c.Mode == "" {
		c.Mode = Append
	}
	if c.TimeOfDay == "" {
		c.TimeOfDay = "09:00"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Visibility == "" {
		c.Visibility = Private
	}
	return c
}

// Validate checks every field, including that the timezone is a loadable IANA zone.
func (c AutoUpdateConfig) Validate() error {
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return err
	}
	if _, err := ParseRefreshMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := ParseVisibility(string(c.Visibility)); err != nil {
		return err
	}
	if _, _, err := c.clock(); err != nil {
		return err
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

func (c AutoUpdateConfig) clock() (int, int, error) {
	tod := c.TimeOfDay
	if tod == "" {
		tod = "09:00"
	}
	hh, mm, ok := strings.Cut(tod, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: time of day %q, want HH:MM", shared.ErrInvalidArgument, c.TimeOfDay)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", shared.ErrInvalidArgument, c.TimeOfDay)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", shared.ErrInvalidArgument, c.TimeOfDay)
	}
	return h, m, nil
}

func (c AutoUpdateConfig) location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", shared.ErrInvalidArgument, c.Timezone, err)
	}
	return loc, nil
}

// NextRun computes the next scheduled run strictly after base, evaluated in the playlist's own
// timezone:
//   - daily: the next occurrence of TimeOfDay
//   - weekly: seven calendar days after base, at TimeOfDay
//   - monthly: the first day of the following month, at TimeOfDay
//
// The result is returned in UTC. A zero time is returned when the config is not enabled.
func (c AutoUpdateConfig) NextRun(base time.Time) (time.Time, error) {
	if !c.Enabled() {
		return time.Time{}, nil
	}
	h, m, err := c.clock()
	if err != nil {
		return time.Time{}, err
	}
	loc, err := c.location()
	if err != nil {
		return time.Time{}, err
	}

	b := base.In(loc)
	y, mon, d := b.Date()

	var next time.Time
	switch c.Frequency {
	case Daily:
		next = time.Date(y, mon, d, h, m, 0, 0, loc)
		if !next.After(b) {
			next = time.Date(y, mon, d+1, h, m, 0, 0, loc)
		}
	case Weekly:
		next = time.Date(y, mon, d+7, h, m, 0, 0, loc)
	case Monthly:
		next = time.Date(y, mon+1, 1, h, m, 0, 0, loc)
	default:
		return time.Time{}, fmt.Errorf("%w: frequency %q", shared.ErrInvalidArgument, c.Frequency)
	}
	return next.UTC(), nil
}

// PlaylistSpec is the persisted description of a committed playlist.
//
// NextRunAt is zero when auto-update is disabled and otherwise strictly in the future relative to
// the moment it was computed.
type PlaylistSpec struct {
	ID          string
	Owner       string
	Account     Account
	ExternalID  string
	Name        string
	Description string
	Prompt      string
	Refinements RefinementLedger
	SongCount   int
	Flags       ContentFlags
	AutoUpdate  AutoUpdateConfig

	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastManualRefreshAt time.Time
	LastAutoRefreshAt   time.Time
	NextRunAt           time.Time
}

// Validate checks the fields required to persist a spec.
func (p *PlaylistSpec) Validate() error {
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", shared.ErrInvalidInput)
	}
	if err := p.Account.Validate(); err != nil {
		return err
	}
	if p.ExternalID == "" {
		return fmt.Errorf("%w: external playlist id is required", shared.ErrInvalidInput)
	}
	if p.SongCount <= 0 {
		return fmt.Errorf("%w: song count must be positive", shared.ErrInvalidInput)
	}
	return p.AutoUpdate.Validate()
}

// Reschedule recomputes NextRunAt from now, clearing it when auto-update is off.
func (p *PlaylistSpec) Reschedule(now time.Time) error {
	next, err := p.AutoUpdate.NextRun(now)
	if err != nil {
		return err
	}
	p.NextRunAt = next
	return nil
}

// InCooldown reports whether a manual refresh happened within window of now.
func (p *PlaylistSpec) InCooldown(now time.Time, window time.Duration) bool {
	if p.LastManualRefreshAt.IsZero() {
		return false
	}
	return now.Sub(p.LastManualRefreshAt) < window
}
