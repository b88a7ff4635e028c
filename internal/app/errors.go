package app

import (
	"errors"
	"fmt"
	"net/http"

	"billfeed/api/internal/archive"
	"billfeed/api/internal/legiscan"
	"billfeed/api/internal/store"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func upstreamError(what string, err error) *DomainError {
	if errors.Is(err, legiscan.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found upstream", nil)
	}
	return domainError(http.StatusBadGateway, "UPSTREAM_FAILED", "unable to fetch "+what, err.Error())
}

func storeError(action string, err error) *DomainError {
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return domainError(http.StatusInternalServerError, "STORE_FAILED", "unable to "+action, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, archive.ErrNoHistory) ||
		errors.Is(err, archive.ErrUnknownRevision) || errors.Is(err, archive.ErrNoPayload) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
