// Package repo is the survey-link repository collaborator. The screening
// core never touches storage directly; it reads link and policy state and
// writes flags through this interface only.
package repo

import (
	"context"
	"errors"
	"time"
)

// LinkStatus is the lifecycle state of a survey link.
type LinkStatus string

const (
	StatusActive    LinkStatus = "ACTIVE"
	StatusCompleted LinkStatus = "COMPLETED"
	StatusFlagged   LinkStatus = "FLAGGED"
	StatusExpired   LinkStatus = "EXPIRED"
)

// LinkType distinguishes live respondent links from internal test links.
type LinkType string

const (
	LinkLive LinkType = "LIVE"
	LinkTest LinkType = "TEST"
)

// Link is one distributable survey link.
type Link struct {
	ID        string
	UID       string
	ProjectID string
	SurveyURL string
	Type      LinkType
	Status    LinkStatus
	CreatedAt time.Time
}

// Policy is the project-level screening policy.
type Policy struct {
	AllowedCountries []string // empty means no geo restriction
}

// FlagRecord is a persisted screening flag.
type FlagRecord struct {
	ID        string
	LinkID    string
	Reason    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// ErrNotFound is returned when a link or project does not exist.
var ErrNotFound = errors.New("not found")

// ErrMalformedPolicy marks policy rows that failed to parse. Callers must
// treat it as a conservative deny, never a silent allow.
var ErrMalformedPolicy = errors.New("malformed policy")

// Repository is the storage contract for links, policies, and flags.
type Repository interface {
	GetLinkByUID(ctx context.Context, uid string) (*Link, error)
	GetProjectPolicy(ctx context.Context, projectID string) (Policy, error)
	RecordFlag(ctx context.Context, rec FlagRecord) error
	UpdateLinkStatus(ctx context.Context, linkID string, status LinkStatus) error
}
