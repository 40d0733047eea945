package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound     = errors.New("resource not found")
	ErrTaskNotFound = errors.New("generation task not found")
	ErrDeckNotFound = errors.New("deck not found")
	ErrUserNotFound = errors.New("user not found")

	// Input Errors - возникают до любого списания кредитов.
	ErrInvalidInput      = errors.New("invalid input data")
	ErrUnreadableSource  = errors.New("source document is empty or unreadable")
	ErrSourceFetchFailed = errors.New("failed to fetch source document")

	// Billing Errors
	ErrInsufficientCredits = errors.New("insufficient credits")

	// Generation Errors
	ErrAIResponseMalformed = errors.New("AI response is not valid JSON")
	ErrMarkerNotFound      = errors.New("chapter start marker not found in source text")
	ErrInvalidTransition   = errors.New("invalid task status transition")
	ErrChaptersNotSelected = errors.New("no chapters selected for generation")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)
