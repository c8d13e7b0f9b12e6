package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/PrincewillDev/polling-app-sub000/database"
	"github.com/PrincewillDev/polling-app-sub000/models"
)

var (
	// ErrDuplicateVote means the (poll_id, user_id) unique index rejected
	// the insert: the user already has a vote on this poll.
	ErrDuplicateVote = errors.New("duplicate vote for poll and user")

	// ErrOptionMissing means an option increment matched no row; the option
	// was deleted between validation and the write.
	ErrOptionMissing = errors.New("poll option no longer exists")
)

// PollRepository is the durable-store seam the tally engine writes through.
// All counter updates are atomic in-database increments, never
// read-modify-write round trips in application code.
type PollRepository interface {
	GetPollWithOptions(ctx context.Context, id string) (*models.Poll, error)
	HasUserVoted(ctx context.Context, pollID, userID string) (bool, error)
	GetUserVote(ctx context.Context, pollID, userID string) (*models.Vote, error)

	// RecordVote applies one vote event as a single transaction: insert the
	// ledger row, bump each selected option, bump the poll aggregates.
	// Returns the poll's new total vote count.
	RecordVote(ctx context.Context, vote *models.Vote, optionIDs []string) (int64, error)

	IncrementPollViews(ctx context.Context, pollID string) error
	CloseExpiredPolls(ctx context.Context) (int64, error)
}

// GormPollRepository is the GORM-backed implementation.
type GormPollRepository struct {
	db *gorm.DB
}

// NewPollRepository wraps a database handle.
func NewPollRepository(db *gorm.DB) *GormPollRepository {
	return &GormPollRepository{db: db}
}

// GetPollWithOptions loads a poll and its options ordered by order_index.
func (r *GormPollRepository) GetPollWithOptions(ctx context.Context, id string) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index asc")
		}).
		First(&poll, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &poll, nil
}

// HasUserVoted reports whether a vote ledger row exists for the pair.
func (r *GormPollRepository) HasUserVoted(ctx context.Context, pollID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("poll_id = ? AND user_id = ?", pollID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetUserVote loads the user's ledger row on a poll; nil when none exists.
func (r *GormPollRepository) GetUserVote(ctx context.Context, pollID, userID string) (*models.Vote, error) {
	var vote models.Vote
	err := r.db.WithContext(ctx).
		Where("poll_id = ? AND user_id = ?", pollID, userID).
		First(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

// RecordVote inserts the ledger row and applies the counter increments in one
// transaction. The unique index on (poll_id, user_id) closes the
// check-then-act race: a concurrent duplicate fails the insert itself, and
// the whole transaction rolls back with no partial state.
func (r *GormPollRepository) RecordVote(ctx context.Context, vote *models.Vote, optionIDs []string) (int64, error) {
	var newTotal int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(vote).Error; err != nil {
			if database.IsDuplicateKey(err) {
				return ErrDuplicateVote
			}
			return err
		}

		// 每个被选中的选项票数 +1，必须命中一行
		for _, optionID := range optionIDs {
			result := tx.Model(&models.PollOption{}).
				Where("id = ? AND poll_id = ?", optionID, vote.PollID).
				UpdateColumn("votes", gorm.Expr("votes + ?", 1))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrOptionMissing
			}
		}

		// 投票事件整体只让 unique_voters +1
		result := tx.Model(&models.Poll{}).
			Where("id = ?", vote.PollID).
			UpdateColumns(map[string]interface{}{
				"total_votes":   gorm.Expr("total_votes + ?", len(optionIDs)),
				"unique_voters": gorm.Expr("unique_voters + ?", 1),
			})
		if result.Error != nil {
			return result.Error
		}

		var poll models.Poll
		if err := tx.Select("total_votes").First(&poll, "id = ?", vote.PollID).Error; err != nil {
			return err
		}
		newTotal = poll.TotalVotes
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newTotal, nil
}

// IncrementPollViews bumps the view counter, best effort.
func (r *GormPollRepository) IncrementPollViews(ctx context.Context, pollID string) error {
	return r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		UpdateColumn("total_views", gorm.Expr("total_views + ?", 1)).Error
}

// CloseExpiredPolls flips active polls whose end date has passed to closed
// and returns how many rows changed. The end-date check in CastVote stays
// authoritative; this sweep is advisory cleanup.
func (r *GormPollRepository) CloseExpiredPolls(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("status = ? AND end_date IS NOT NULL AND end_date < ?", models.PollStatusActive, time.Now()).
		Update("status", models.PollStatusClosed)
	return result.RowsAffected, result.Error
}

var _ PollRepository = (*GormPollRepository)(nil)
