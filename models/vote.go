package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Vote is the append-only ledger of vote events. One row per submission; a
// multi-choice submission stores every selected option id in OptionIDs.
//
// The composite unique index on (poll_id, user_id) is the duplicate-vote
// guard for authenticated voters. UserID is NULL for anonymous votes, and
// NULLs never collide under the unique index, so anonymous votes are not
// deduplicated by identity.
type Vote struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	PollID    string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_votes_poll_user" json:"poll_id"`
	UserID    *string        `gorm:"type:varchar(36);uniqueIndex:idx_votes_poll_user" json:"user_id,omitempty"`
	OptionIDs datatypes.JSON `gorm:"not null" json:"option_ids"`
	IPAddress string         `gorm:"type:varchar(45)" json:"-"`
	UserAgent string         `gorm:"type:varchar(255)" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

// BeforeCreate assigns an opaque id when none was provided.
func (v *Vote) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// NewVote builds a ledger row for the given selection.
func NewVote(pollID string, userID *string, optionIDs []string, ip, userAgent string) (*Vote, error) {
	raw, err := json.Marshal(optionIDs)
	if err != nil {
		return nil, err
	}
	return &Vote{
		ID:        uuid.NewString(),
		PollID:    pollID,
		UserID:    userID,
		OptionIDs: datatypes.JSON(raw),
		IPAddress: ip,
		UserAgent: userAgent,
	}, nil
}

// SelectedOptions decodes the option id set recorded on the vote.
func (v *Vote) SelectedOptions() ([]string, error) {
	var ids []string
	if err := json.Unmarshal(v.OptionIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
