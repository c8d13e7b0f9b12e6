package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollStatusDraft  PollStatus = "draft"
	PollStatusActive PollStatus = "active"
	PollStatusClosed PollStatus = "closed"
)

// ShowResultsPolicy controls when non-owners may see tallies.
type ShowResultsPolicy string

const (
	ShowResultsImmediately ShowResultsPolicy = "immediately"
	ShowResultsAfterVote   ShowResultsPolicy = "after-vote"
	ShowResultsAfterEnd    ShowResultsPolicy = "after-end"
	ShowResultsNever       ShowResultsPolicy = "never"
)

// Poll represents a voting poll. The aggregate counters (TotalVotes,
// UniqueVoters, TotalViews) are derived values mutated only through atomic
// increments in the repository layer.
type Poll struct {
	ID                  string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	Question            string            `gorm:"not null" json:"question"`
	Description         string            `gorm:"type:text" json:"description"`
	Status              PollStatus        `gorm:"type:varchar(16);not null;default:draft;index" json:"status"`
	AllowMultipleChoice bool              `gorm:"not null;default:false" json:"allow_multiple_choice"`
	RequireAuth         bool              `gorm:"not null;default:false" json:"require_auth"`
	IsAnonymous         bool              `gorm:"not null;default:false" json:"is_anonymous"`
	IsPublic            bool              `gorm:"not null;default:true" json:"is_public"`
	ShowResults         ShowResultsPolicy `gorm:"type:varchar(16);not null;default:immediately" json:"show_results"`
	EndDate             *time.Time        `json:"end_date,omitempty"`
	CreatedBy           string            `gorm:"type:varchar(36);index" json:"created_by"`
	TotalVotes          int64             `gorm:"not null;default:0" json:"total_votes"`
	UniqueVoters        int64             `gorm:"not null;default:0" json:"unique_voters"`
	TotalViews          int64             `gorm:"not null;default:0" json:"total_views"`
	Options             []PollOption      `gorm:"foreignKey:PollID" json:"options"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// BeforeCreate assigns an opaque id when none was provided.
func (p *Poll) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsEnded reports whether the poll's optional end date has passed. This is a
// point-in-time check; expired polls are not guaranteed to be closed yet.
func (p *Poll) IsEnded(now time.Time) bool {
	return p.EndDate != nil && now.After(*p.EndDate)
}

// OptionIDSet returns the set of option ids belonging to the poll.
func (p *Poll) OptionIDSet() map[string]bool {
	set := make(map[string]bool, len(p.Options))
	for _, opt := range p.Options {
		set[opt.ID] = true
	}
	return set
}

// PollOption represents an option within a poll, ordered by OrderIndex.
// Votes is monotonically non-decreasing once the poll is active; percentages
// are never stored, they are computed on read.
type PollOption struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PollID     string    `gorm:"type:varchar(36);not null;index" json:"poll_id"`
	Text       string    `gorm:"not null" json:"text"`
	OrderIndex int       `gorm:"not null;default:0" json:"order_index"`
	Votes      int64     `gorm:"not null;default:0" json:"votes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate assigns an opaque id when none was provided.
func (o *PollOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}
