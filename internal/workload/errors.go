package workload

import "errors"

var (
	// ErrNoURL is returned when the target has no URL.
	ErrNoURL = errors.New("target url is required")
	// ErrUnexpectedStatus marks a response whose status is not expected.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrEmptyCheck is returned for a check that sets no condition.
	ErrEmptyCheck = errors.New("check must set one of status, max_duration, jsonpath, body_contains or script")
)
