package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/PrincewillDev/polling-app-sub000/models"
)

func createPoll(t *testing.T, db *gorm.DB, mutate func(*models.Poll)) *models.Poll {
	t.Helper()

	poll := &models.Poll{
		Question: "Best editor?",
		Status:   models.PollStatusActive,
		IsPublic: true,
		Options: []models.PollOption{
			{Text: "Vim", OrderIndex: 0},
			{Text: "Emacs", OrderIndex: 1},
		},
	}
	if mutate != nil {
		mutate(poll)
	}
	require.NoError(t, db.Create(poll).Error)
	return poll
}

func postVote(router *gin.Engine, pollID string, body gin.H, token string) *httptest.ResponseRecorder {
	jsonData, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/polls/%s/vote", pollID), bytes.NewBuffer(jsonData))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitVote(t *testing.T) {
	router, db, provider := SetupTestEnvironment(t)
	poll := createPoll(t, db, nil)
	creds := provider.Issue("user-1")

	w := postVote(router, poll.ID, gin.H{"option_ids": []string{poll.Options[0].ID}}, creds.AccessToken)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Message string `json:"message"`
		Receipt struct {
			VoteID     string   `json:"vote_id"`
			PollID     string   `json:"poll_id"`
			OptionIDs  []string `json:"option_ids"`
			TotalVotes int64    `json:"total_votes"`
		} `json:"receipt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Vote submitted successfully", body.Message)
	assert.Equal(t, poll.ID, body.Receipt.PollID)
	assert.Equal(t, int64(1), body.Receipt.TotalVotes)
	assert.NotEmpty(t, body.Receipt.VoteID)
}

func TestSubmitVote_ErrorStatusCodes(t *testing.T) {
	router, db, provider := SetupTestEnvironment(t)

	past := time.Now().Add(-time.Hour)

	activePoll := createPoll(t, db, nil)
	draftPoll := createPoll(t, db, func(p *models.Poll) { p.Status = models.PollStatusDraft })
	endedPoll := createPoll(t, db, func(p *models.Poll) { p.EndDate = &past })
	authPoll := createPoll(t, db, func(p *models.Poll) { p.RequireAuth = true })

	creds := provider.Issue("user-1")

	// 先投一票，给重复投票用例做铺垫
	w := postVote(router, activePoll.ID, gin.H{"option_ids": []string{activePoll.Options[0].ID}}, creds.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name         string
		pollID       string
		body         gin.H
		token        string
		expectedCode int
	}{
		{
			name:         "missing option_ids",
			pollID:       activePoll.ID,
			body:         gin.H{},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unknown poll",
			pollID:       "no-such-poll",
			body:         gin.H{"option_ids": []string{"x"}},
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "draft poll",
			pollID:       draftPoll.ID,
			body:         gin.H{"option_ids": []string{draftPoll.Options[0].ID}},
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "ended poll",
			pollID:       endedPoll.ID,
			body:         gin.H{"option_ids": []string{endedPoll.Options[0].ID}},
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "two options on single choice poll",
			pollID:       activePoll.ID,
			body:         gin.H{"option_ids": []string{activePoll.Options[0].ID, activePoll.Options[1].ID}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "auth required without token",
			pollID:       authPoll.ID,
			body:         gin.H{"option_ids": []string{authPoll.Options[0].ID}},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "option from another poll",
			pollID:       activePoll.ID,
			body:         gin.H{"option_ids": []string{draftPoll.Options[0].ID}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "duplicate vote",
			pollID:       activePoll.ID,
			body:         gin.H{"option_ids": []string{activePoll.Options[1].ID}},
			token:        creds.AccessToken,
			expectedCode: http.StatusConflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := postVote(router, tc.pollID, tc.body, tc.token)
			assert.Equal(t, tc.expectedCode, w.Code)

			var responseBody map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &responseBody))
			assert.NotEmpty(t, responseBody["error"])
		})
	}
}

func TestGetVoteStatus(t *testing.T) {
	router, db, provider := SetupTestEnvironment(t)
	poll := createPoll(t, db, nil)
	creds := provider.Issue("user-1")

	// 未带凭证时无法查询投票状态
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", fmt.Sprintf("/api/polls/%s/vote", poll.ID), nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	getStatus := func() map[string]interface{} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", fmt.Sprintf("/api/polls/%s/vote", poll.ID), nil)
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, false, getStatus()["has_voted"])

	postVote(router, poll.ID, gin.H{"option_ids": []string{poll.Options[0].ID}}, creds.AccessToken)

	body := getStatus()
	assert.Equal(t, true, body["has_voted"])
	assert.Equal(t, []interface{}{poll.Options[0].ID}, body["option_ids"])
}

func TestGetResults(t *testing.T) {
	router, db, provider := SetupTestEnvironment(t)
	poll := createPoll(t, db, nil)

	for _, user := range []string{"user-1", "user-2"} {
		creds := provider.Issue(user)
		w := postVote(router, poll.ID, gin.H{"option_ids": []string{poll.Options[0].ID}}, creds.AccessToken)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", fmt.Sprintf("/api/polls/%s/results", poll.ID), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var view struct {
		PollID     string `json:"poll_id"`
		TotalVotes int64  `json:"total_votes"`
		Options    []struct {
			Text       string  `json:"text"`
			Votes      int64   `json:"votes"`
			Percentage float64 `json:"percentage"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))

	assert.Equal(t, poll.ID, view.PollID)
	assert.Equal(t, int64(2), view.TotalVotes)
	require.Len(t, view.Options, 2)
	assert.Equal(t, float64(100), view.Options[0].Percentage)
	assert.Equal(t, float64(0), view.Options[1].Percentage)
}

func TestGetResults_HiddenPolicy(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	poll := createPoll(t, db, func(p *models.Poll) {
		p.ShowResults = models.ShowResultsNever
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", fmt.Sprintf("/api/polls/%s/results", poll.ID), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
