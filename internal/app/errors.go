package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrNoActiveChat  = domainError(http.StatusConflict, "NO_ACTIVE_CHAT", "No chat is currently open", nil)
	ErrLinkNotFound  = domainError(http.StatusNotFound, "LINK_NOT_FOUND", "Short link not found or expired", nil)
	ErrFeatureOff    = domainError(http.StatusConflict, "DISABLED", "Chat URL navigation is disabled", nil)
	ErrNavigateChat  = domainError(http.StatusUnprocessableEntity, "NAVIGATION_FAILED", "Navigation did not complete", nil)
	ErrHostNotLoaded = domainError(http.StatusServiceUnavailable, "NOT_READY", "Chat application has not finished loading", nil)
)
