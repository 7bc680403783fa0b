package scraper

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSession means the token is absent or malformed. Fatal, never retried.
	ErrInvalidSession = errors.New("invalid session token")
	// ErrLoginRejected means a well-formed token was refused by the site.
	ErrLoginRejected = errors.New("login rejected")
	ErrAuthWall      = errors.New("auth wall")
	ErrNotFound      = errors.New("page not found")
	ErrNoOverlay     = errors.New("reactions overlay did not open")
	// ErrExtractionEmpty separates "harvesting failed" from "no engagement".
	ErrExtractionEmpty   = errors.New("no engagement data extracted")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrBrowserBusy       = errors.New("browser is busy with another job")
	ErrInvalidTarget     = errors.New("invalid target url")
	ErrElementMissing    = errors.New("element not found")
	ErrBrowserClosed     = errors.New("browser closed")
)

// IsRetryable reports whether a unit of work may be attempted again.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrAuthWall),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidSession),
		errors.Is(err, ErrLoginRejected):
		return false
	}
	return true
}

// UserMessage maps an engine error to the cause shown to callers.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSession):
		return "Invalid session token format. Please provide a valid li_at cookie."
	case errors.Is(err, ErrLoginRejected):
		return "Session token expired or invalid. Please re-authenticate and update your cookie."
	case errors.Is(err, ErrAuthWall):
		return "Target page requires authentication that this session does not have."
	case errors.Is(err, ErrNotFound):
		return "Target page not found."
	case errors.Is(err, ErrNoOverlay):
		return "Could not open the reactions list for this post."
	case errors.Is(err, ErrExtractionEmpty):
		return "No engagement data could be extracted from the target page."
	case errors.Is(err, ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Timed out while loading the target page."
	case errors.Is(err, ErrBrowserBusy):
		return "Another analysis is already running. Try again when it finishes."
	case errors.Is(err, ErrInvalidTarget):
		return "Invalid URL. Please provide a LinkedIn profile or post URL."
	case errors.Is(err, context.Canceled):
		return "Analysis was cancelled."
	}
	return err.Error()
}
