package service

import "errors"

// Tally engine error taxonomy. Everything except ErrTransientStore is a
// deterministic, client-correctable failure surfaced verbatim to the caller.
var (
	ErrEmptySelection           = errors.New("no options selected")
	ErrPollNotFound             = errors.New("poll not found")
	ErrPollNotActive            = errors.New("poll is not active")
	ErrPollEnded                = errors.New("poll has ended")
	ErrMultipleChoiceNotAllowed = errors.New("single choice poll allows only one option")
	ErrAuthenticationRequired   = errors.New("authentication required")
	ErrInvalidOption            = errors.New("option does not belong to this poll")
	ErrAlreadyVoted             = errors.New("user has already voted on this poll")
	ErrResultsNotVisible        = errors.New("results are not visible yet")
	ErrTransientStore           = errors.New("transient store failure")
)
