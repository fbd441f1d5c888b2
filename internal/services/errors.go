// Package services implements the business logic of the webhook pipeline and
// the scheduled-job engine: dispatching inbound events, running conversation
// turns through the agent, and managing job lifecycles.
//
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers. Translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

var (
	// ErrInvalidSchedule is returned when a job's cron expression does not
	// parse.
	ErrInvalidSchedule = errors.New("invalid cron schedule")

	// ErrEmptyPayload is returned when a job is created without a payload.
	ErrEmptyPayload = errors.New("job payload is empty")

	// ErrMissingMedia is returned when a media message carries no media
	// payload to download.
	ErrMissingMedia = errors.New("message has no media payload")

	// ErrUnsupportedType marks message types outside the processed set.
	// Such messages are recorded but never answered.
	ErrUnsupportedType = errors.New("unsupported message type")
)
