package provider

import (
	"errors"
	"fmt"
)

var (
	ErrConfig          = errors.New("configuration error")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrNotFound        = errors.New("not found")
	ErrRemoteAPI       = errors.New("remote API error")
	ErrNameExhausted   = errors.New("no free release name")
	ErrUpload          = errors.New("upload failed")
	ErrPartialDownload = errors.New("partial download")
	ErrBuildFailed     = errors.New("build failed")
	ErrPollTimeout     = errors.New("timed out waiting for CI")
)

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WrapError converts configuration and API errors to user-friendly messages.
// Errors it does not recognise are returned unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return err
	}

	if errors.Is(err, ErrConfig) {
		return &UserError{
			Message: "Not configured",
			Hint:    "Run wheelwright from inside the build repository or set WHEELWRIGHT_REPO=<user>/<repo>.\nProvide a GitHub token via GITHUB_SECRET_TOKEN or github-secret-token.txt in WHEELWRIGHT_ROOT.",
			Err:     err,
		}
	}

	if errors.Is(err, ErrAuthFailed) {
		return &UserError{
			Message: "Authentication failed",
			Hint:    "Check that your GitHub token is valid and has the repo scope.\nRun 'wheelwright check' to verify the setup.",
			Err:     err,
		}
	}

	if errors.Is(err, ErrNotFound) {
		return &UserError{
			Message: "Not found on GitHub",
			Hint:    "Check the repository and release names, and that the token can access the build repository.",
			Err:     err,
		}
	}

	return err
}
