package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PrincewillDev/polling-app-sub000/service"
)

// VoteInput is the request body for submitting a vote.
type VoteInput struct {
	OptionIDs []string `json:"option_ids" binding:"required,min=1"`
}

// VoteHandler exposes the tally engine over HTTP.
type VoteHandler struct {
	votes service.VoteService
}

// NewVoteHandler wraps the engine.
func NewVoteHandler(votes service.VoteService) *VoteHandler {
	return &VoteHandler{votes: votes}
}

// SubmitVote handles POST /polls/:id/vote.
func (h *VoteHandler) SubmitVote(c *gin.Context) {
	pollID := c.Param("id")

	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.votes.CastVote(c.Request.Context(), service.CastVoteInput{
		PollID:    pollID,
		OptionIDs: input.OptionIDs,
		Bearer:    bearerToken(c),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		status, msg := mapVoteError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Vote submitted successfully",
		"receipt": receipt,
	})
}

// GetVoteStatus handles GET /polls/:id/vote: whether the authenticated
// caller has already voted, and with which options.
func (h *VoteHandler) GetVoteStatus(c *gin.Context) {
	pollID := c.Param("id")

	status, err := h.votes.GetVoteStatus(c.Request.Context(), pollID, bearerToken(c))
	if err != nil {
		code, msg := mapVoteError(err)
		c.JSON(code, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"poll_id":    pollID,
		"has_voted":  status.HasVoted,
		"option_ids": status.OptionIDs,
	})
}

// GetResults handles GET /polls/:id/results.
func (h *VoteHandler) GetResults(c *gin.Context) {
	pollID := c.Param("id")

	view, err := h.votes.GetResults(c.Request.Context(), pollID, bearerToken(c))
	if err != nil {
		status, msg := mapVoteError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, view)
}

// bearerToken extracts the optional bearer credential.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// mapVoteError translates the engine's error taxonomy onto HTTP statuses.
func mapVoteError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptySelection),
		errors.Is(err, service.ErrMultipleChoiceNotAllowed),
		errors.Is(err, service.ErrInvalidOption):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrAuthenticationRequired):
		return http.StatusUnauthorized, service.ErrAuthenticationRequired.Error()
	case errors.Is(err, service.ErrPollNotActive),
		errors.Is(err, service.ErrPollEnded),
		errors.Is(err, service.ErrResultsNotVisible):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrPollNotFound):
		return http.StatusNotFound, service.ErrPollNotFound.Error()
	case errors.Is(err, service.ErrAlreadyVoted):
		return http.StatusConflict, service.ErrAlreadyVoted.Error()
	case errors.Is(err, service.ErrTransientStore):
		return http.StatusServiceUnavailable, "temporary storage failure, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
