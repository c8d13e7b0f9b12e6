package service

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/PrincewillDev/polling-app-sub000/logging"
	"github.com/PrincewillDev/polling-app-sub000/models"
	"github.com/PrincewillDev/polling-app-sub000/repository"
)

// TokenVerifier resolves a bearer credential to a verified user id. It must
// re-verify on every call; the tally engine never trusts a cached claim.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (string, error)
}

// VoteLocker is the best-effort duplicate heuristic for anonymous voters,
// keyed by (poll, client address). A nil implementation disables it.
type VoteLocker interface {
	AcquireVoteLock(ctx context.Context, pollID, voterKey string) (bool, error)
	// ReleaseVoteLock undoes a prior acquire when the vote never made it to
	// the store, so the address is not locked out without a recorded vote.
	ReleaseVoteLock(ctx context.Context, pollID, voterKey string)
}

// ResultCache caches computed result views per poll.
type ResultCache interface {
	GetResults(ctx context.Context, pollID string) (*PollResultView, bool)
	SetResults(ctx context.Context, pollID string, view *PollResultView)
	Invalidate(ctx context.Context, pollID string)
}

// TallyBroadcaster fans a fresh result view out to live subscribers.
type TallyBroadcaster interface {
	BroadcastTally(pollID string, view *PollResultView)
}

// CastVoteInput carries one vote submission into the engine.
type CastVoteInput struct {
	PollID    string
	OptionIDs []string
	// Bearer is the raw credential; empty means anonymous.
	Bearer    string
	IPAddress string
	UserAgent string
}

// VoteReceipt confirms which options were recorded and the poll's new total.
type VoteReceipt struct {
	VoteID     string   `json:"vote_id"`
	PollID     string   `json:"poll_id"`
	OptionIDs  []string `json:"option_ids"`
	TotalVotes int64    `json:"total_votes"`
}

// OptionResult is one option's share of the tally. Percentage is computed on
// read, never stored.
type OptionResult struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// PollResultView is the consistent percentage-based result view.
type PollResultView struct {
	PollID       string            `json:"poll_id"`
	Question     string            `json:"question"`
	Status       models.PollStatus `json:"status"`
	TotalVotes   int64             `json:"total_votes"`
	UniqueVoters int64             `json:"unique_voters"`
	Options      []OptionResult    `json:"options"`
}

// VoteStatus reports whether the caller already voted on a poll, and with
// which options.
type VoteStatus struct {
	HasVoted  bool     `json:"has_voted"`
	OptionIDs []string `json:"option_ids,omitempty"`
}

// VoteService is the vote ingestion and tally engine.
type VoteService interface {
	CastVote(ctx context.Context, input CastVoteInput) (*VoteReceipt, error)
	GetResults(ctx context.Context, pollID, bearer string) (*PollResultView, error)
	GetVoteStatus(ctx context.Context, pollID, bearer string) (*VoteStatus, error)
}

// VoteServiceImpl wires the engine's collaborators. locker, cache and
// broadcaster may be nil; the engine degrades gracefully without them.
type VoteServiceImpl struct {
	repo        repository.PollRepository
	verifier    TokenVerifier
	locker      VoteLocker
	cache       ResultCache
	broadcaster TallyBroadcaster

	storeTimeout time.Duration
	now          func() time.Time
}

// NewVoteService constructs the engine.
func NewVoteService(repo repository.PollRepository, verifier TokenVerifier, locker VoteLocker, cache ResultCache, broadcaster TallyBroadcaster, storeTimeout time.Duration) *VoteServiceImpl {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &VoteServiceImpl{
		repo:         repo,
		verifier:     verifier,
		locker:       locker,
		cache:        cache,
		broadcaster:  broadcaster,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// CastVote validates and records a single vote event. All preconditions are
// checked before any side effect; the effects are one transaction in the
// repository. A transient store failure is retried once for authenticated
// voters, where the unique index makes the retry safe.
func (s *VoteServiceImpl) CastVote(ctx context.Context, input CastVoteInput) (*VoteReceipt, error) {
	// 1. 选项集合去重，不能为空
	optionIDs := dedupe(input.OptionIDs)
	if len(optionIDs) == 0 {
		return nil, ErrEmptySelection
	}

	// 2. 投票必须存在
	poll, err := s.repo.GetPollWithOptions(ctx, input.PollID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, wrapTransient(err)
	}

	// 3. 必须处于active状态
	if poll.Status != models.PollStatusActive {
		return nil, ErrPollNotActive
	}

	// 4. 结束时间是请求时刻的点检查
	if poll.IsEnded(s.now()) {
		return nil, ErrPollEnded
	}

	// 5. 单选投票只允许一个选项
	if !poll.AllowMultipleChoice && len(optionIDs) > 1 {
		return nil, ErrMultipleChoiceNotAllowed
	}

	// 6. 需要认证的投票必须带可验证的凭证
	userID, err := s.resolveVoter(ctx, poll, input.Bearer)
	if err != nil {
		return nil, err
	}

	// 7. 所有选项必须属于该投票
	validIDs := poll.OptionIDSet()
	for _, id := range optionIDs {
		if !validIDs[id] {
			return nil, ErrInvalidOption
		}
	}

	// 8. 重复投票快速检查，唯一索引兜底
	lockHeld := false
	if userID != nil {
		voted, err := s.repo.HasUserVoted(ctx, poll.ID, *userID)
		if err != nil {
			return nil, wrapTransient(err)
		}
		if voted {
			return nil, ErrAlreadyVoted
		}
	} else if s.locker != nil && input.IPAddress != "" {
		acquired, err := s.locker.AcquireVoteLock(ctx, poll.ID, input.IPAddress)
		if err != nil {
			// 锁服务故障只降级，不拦截投票
			logging.Log.Warnf("匿名投票锁检查失败: %v", err)
		} else if !acquired {
			return nil, ErrAlreadyVoted
		} else {
			lockHeld = true
		}
	}

	vote, err := models.NewVote(poll.ID, userID, optionIDs, input.IPAddress, input.UserAgent)
	if err != nil {
		s.releaseVoteLock(ctx, lockHeld, poll.ID, input.IPAddress)
		return nil, err
	}

	newTotal, err := s.applyVote(ctx, vote, optionIDs)
	if err != nil {
		// 票没写进去就放开锁，同一地址还能重试
		s.releaseVoteLock(ctx, lockHeld, poll.ID, input.IPAddress)
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, poll.ID)
	}
	s.broadcastAsync(poll.ID)

	return &VoteReceipt{
		VoteID:     vote.ID,
		PollID:     poll.ID,
		OptionIDs:  optionIDs,
		TotalVotes: newTotal,
	}, nil
}

// applyVote runs the transactional effect phase with a bounded timeout and a
// single retry on transient failure. Anonymous votes are never retried: with
// no unique index to reject a double insert, a retry could double count.
func (s *VoteServiceImpl) applyVote(ctx context.Context, vote *models.Vote, optionIDs []string) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	newTotal, err := s.repo.RecordVote(storeCtx, vote, optionIDs)
	if err == nil {
		return newTotal, nil
	}
	if errors.Is(err, repository.ErrDuplicateVote) {
		return 0, ErrAlreadyVoted
	}
	if errors.Is(err, repository.ErrOptionMissing) {
		return 0, ErrInvalidOption
	}

	if vote.UserID == nil {
		return 0, wrapTransient(err)
	}

	logging.Log.Warnf("投票写入失败，重试一次: %v", err)
	retryCtx, cancelRetry := context.WithTimeout(ctx, s.storeTimeout)
	defer cancelRetry()

	newTotal, retryErr := s.repo.RecordVote(retryCtx, vote, optionIDs)
	if retryErr == nil {
		return newTotal, nil
	}
	if errors.Is(retryErr, repository.ErrDuplicateVote) {
		// 第一次尝试实际已提交，重试撞上了唯一索引
		return 0, ErrAlreadyVoted
	}
	if errors.Is(retryErr, repository.ErrOptionMissing) {
		return 0, ErrInvalidOption
	}
	return 0, wrapTransient(retryErr)
}

// resolveVoter applies precondition 6 and resolves the caller's identity.
// A presented credential is always re-verified; a poll that requires auth
// rejects anonymous or unverifiable callers.
func (s *VoteServiceImpl) resolveVoter(ctx context.Context, poll *models.Poll, bearer string) (*string, error) {
	if bearer == "" {
		if poll.RequireAuth {
			return nil, ErrAuthenticationRequired
		}
		return nil, nil
	}
	if s.verifier == nil {
		if poll.RequireAuth {
			return nil, ErrAuthenticationRequired
		}
		return nil, nil
	}
	userID, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		return nil, ErrAuthenticationRequired
	}
	return &userID, nil
}

// GetResults returns the gated, percentage-based result view.
func (s *VoteServiceImpl) GetResults(ctx context.Context, pollID, bearer string) (*PollResultView, error) {
	poll, err := s.repo.GetPollWithOptions(ctx, pollID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, wrapTransient(err)
	}

	viewerID := s.viewerIdentity(ctx, bearer)
	visible, err := s.resultsVisible(ctx, poll, viewerID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrResultsNotVisible
	}

	// 浏览计数尽力而为
	if err := s.repo.IncrementPollViews(ctx, poll.ID); err != nil {
		logging.Log.Debugf("浏览计数更新失败: %v", err)
	}

	if s.cache != nil {
		if view, ok := s.cache.GetResults(ctx, poll.ID); ok {
			return view, nil
		}
	}

	view := buildResultView(poll, poll.Options)
	if s.cache != nil {
		s.cache.SetResults(ctx, poll.ID, view)
	}
	return view, nil
}

// GetVoteStatus reports whether the authenticated caller already voted on
// the poll and which options their ledger row recorded.
func (s *VoteServiceImpl) GetVoteStatus(ctx context.Context, pollID, bearer string) (*VoteStatus, error) {
	if bearer == "" || s.verifier == nil {
		return nil, ErrAuthenticationRequired
	}
	userID, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		return nil, ErrAuthenticationRequired
	}

	if _, err := s.repo.GetPollWithOptions(ctx, pollID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, wrapTransient(err)
	}

	vote, err := s.repo.GetUserVote(ctx, pollID, userID)
	if err != nil {
		return nil, wrapTransient(err)
	}
	if vote == nil {
		return &VoteStatus{}, nil
	}

	optionIDs, err := vote.SelectedOptions()
	if err != nil {
		return nil, err
	}
	return &VoteStatus{HasVoted: true, OptionIDs: optionIDs}, nil
}

// releaseVoteLock undoes the anonymous vote lock after a failed write.
func (s *VoteServiceImpl) releaseVoteLock(ctx context.Context, held bool, pollID, voterKey string) {
	if !held || s.locker == nil {
		return
	}
	s.locker.ReleaseVoteLock(ctx, pollID, voterKey)
}

// resultsVisible applies the show-results policy. The owner always sees
// results; everyone else is gated by the policy.
func (s *VoteServiceImpl) resultsVisible(ctx context.Context, poll *models.Poll, viewerID *string) (bool, error) {
	if viewerID != nil && poll.CreatedBy != "" && *viewerID == poll.CreatedBy {
		return true, nil
	}

	switch poll.ShowResults {
	case models.ShowResultsImmediately, "":
		return true, nil
	case models.ShowResultsAfterVote:
		if viewerID == nil {
			return false, nil
		}
		voted, err := s.repo.HasUserVoted(ctx, poll.ID, *viewerID)
		if err != nil {
			return false, wrapTransient(err)
		}
		return voted, nil
	case models.ShowResultsAfterEnd:
		return poll.Status == models.PollStatusClosed || poll.IsEnded(s.now()), nil
	default: // never
		return false, nil
	}
}

// viewerIdentity resolves an optional viewer credential. Verification failure
// just means no identity was granted.
func (s *VoteServiceImpl) viewerIdentity(ctx context.Context, bearer string) *string {
	if bearer == "" || s.verifier == nil {
		return nil
	}
	userID, err := s.verifier.Verify(ctx, bearer)
	if err != nil {
		return nil
	}
	return &userID
}

// broadcastAsync pushes a fresh view to live subscribers after a successful
// vote, off the request path.
func (s *VoteServiceImpl) broadcastAsync(pollID string) {
	if s.broadcaster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
		defer cancel()

		poll, err := s.repo.GetPollWithOptions(ctx, pollID)
		if err != nil {
			logging.Log.Warnf("广播前读取投票结果失败: %v", err)
			return
		}
		s.broadcaster.BroadcastTally(pollID, buildResultView(poll, poll.Options))
	}()
}

// buildResultView computes percentages relative to the poll's running total.
// Every percentage is 0 while the poll has no votes.
func buildResultView(poll *models.Poll, options []models.PollOption) *PollResultView {
	view := &PollResultView{
		PollID:       poll.ID,
		Question:     poll.Question,
		Status:       poll.Status,
		TotalVotes:   poll.TotalVotes,
		UniqueVoters: poll.UniqueVoters,
		Options:      make([]OptionResult, len(options)),
	}
	for i, opt := range options {
		result := OptionResult{
			ID:    opt.ID,
			Text:  opt.Text,
			Votes: opt.Votes,
		}
		if poll.TotalVotes > 0 {
			result.Percentage = math.Round(float64(opt.Votes) / float64(poll.TotalVotes) * 100)
		}
		view.Options[i] = result
	}
	return view
}

// wrapTransient marks a storage-layer failure as the retriable error kind.
func wrapTransient(err error) error {
	return errors.Join(ErrTransientStore, err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

var _ VoteService = (*VoteServiceImpl)(nil)
