package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PrincewillDev/polling-app-sub000/models"
)

func setupRepo(t *testing.T) (*GormPollRepository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.Vote{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})
	return NewPollRepository(db), db
}

func seedPoll(t *testing.T, db *gorm.DB) *models.Poll {
	t.Helper()

	poll := &models.Poll{
		Question: "Coffee or tea?",
		Status:   models.PollStatusActive,
		Options: []models.PollOption{
			{Text: "Coffee", OrderIndex: 0},
			{Text: "Tea", OrderIndex: 1},
		},
	}
	require.NoError(t, db.Create(poll).Error)
	return poll
}

func TestRecordVote_DuplicateRollsBackEverything(t *testing.T) {
	repo, db := setupRepo(t)
	poll := seedPoll(t, db)
	userID := "u1"

	vote, err := models.NewVote(poll.ID, &userID, []string{poll.Options[0].ID}, "", "")
	require.NoError(t, err)
	_, err = repo.RecordVote(context.Background(), vote, []string{poll.Options[0].ID})
	require.NoError(t, err)

	// 同一用户第二票撞唯一索引，事务整体回滚
	second, err := models.NewVote(poll.ID, &userID, []string{poll.Options[1].ID}, "", "")
	require.NoError(t, err)
	_, err = repo.RecordVote(context.Background(), second, []string{poll.Options[1].ID})
	assert.ErrorIs(t, err, ErrDuplicateVote)

	var stored models.Poll
	require.NoError(t, db.Preload("Options").First(&stored, "id = ?", poll.ID).Error)
	assert.Equal(t, int64(1), stored.TotalVotes)
	assert.Equal(t, int64(1), stored.UniqueVoters)
	assert.Equal(t, int64(0), stored.Options[1].Votes)
}

func TestRecordVote_MissingOptionRollsBack(t *testing.T) {
	repo, db := setupRepo(t)
	poll := seedPoll(t, db)

	vote, err := models.NewVote(poll.ID, nil, []string{"nonexistent"}, "", "")
	require.NoError(t, err)
	_, err = repo.RecordVote(context.Background(), vote, []string{"nonexistent"})
	assert.ErrorIs(t, err, ErrOptionMissing)

	var voteCount int64
	require.NoError(t, db.Model(&models.Vote{}).Count(&voteCount).Error)
	assert.Equal(t, int64(0), voteCount)

	var stored models.Poll
	require.NoError(t, db.First(&stored, "id = ?", poll.ID).Error)
	assert.Equal(t, int64(0), stored.TotalVotes)
}

func TestRecordVote_AnonymousRowsDoNotCollide(t *testing.T) {
	repo, db := setupRepo(t)
	poll := seedPoll(t, db)

	// user_id为NULL的行不受唯一索引约束
	for i := 0; i < 2; i++ {
		vote, err := models.NewVote(poll.ID, nil, []string{poll.Options[0].ID}, "10.0.0.1", "")
		require.NoError(t, err)
		_, err = repo.RecordVote(context.Background(), vote, []string{poll.Options[0].ID})
		require.NoError(t, err)
	}

	var stored models.Poll
	require.NoError(t, db.First(&stored, "id = ?", poll.ID).Error)
	assert.Equal(t, int64(2), stored.TotalVotes)
}

func TestHasUserVoted(t *testing.T) {
	repo, db := setupRepo(t)
	poll := seedPoll(t, db)
	userID := "u1"

	voted, err := repo.HasUserVoted(context.Background(), poll.ID, userID)
	require.NoError(t, err)
	assert.False(t, voted)

	vote, err := models.NewVote(poll.ID, &userID, []string{poll.Options[0].ID}, "", "")
	require.NoError(t, err)
	_, err = repo.RecordVote(context.Background(), vote, []string{poll.Options[0].ID})
	require.NoError(t, err)

	voted, err = repo.HasUserVoted(context.Background(), poll.ID, userID)
	require.NoError(t, err)
	assert.True(t, voted)
}

func TestCloseExpiredPolls(t *testing.T) {
	repo, db := setupRepo(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	expired := &models.Poll{Question: "Old?", Status: models.PollStatusActive, EndDate: &past}
	running := &models.Poll{Question: "New?", Status: models.PollStatusActive, EndDate: &future}
	openEnded := &models.Poll{Question: "Forever?", Status: models.PollStatusActive}
	require.NoError(t, db.Create(expired).Error)
	require.NoError(t, db.Create(running).Error)
	require.NoError(t, db.Create(openEnded).Error)

	closed, err := repo.CloseExpiredPolls(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	var stored models.Poll
	require.NoError(t, db.First(&stored, "id = ?", expired.ID).Error)
	assert.Equal(t, models.PollStatusClosed, stored.Status)

	stored = models.Poll{}
	require.NoError(t, db.First(&stored, "id = ?", running.ID).Error)
	assert.Equal(t, models.PollStatusActive, stored.Status)
}
