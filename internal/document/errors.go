package document

import (
	"errors"
	"fmt"
)

const fetchErrorUserMessage = "Unable to access this URL directly. " +
	"This is often due to security restrictions on the website hosting the file.\n\n" +
	"Please download the file to your computer and upload it here instead."

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file is too large")
	ErrURLTooLarge     = errors.New("file at URL is too large")
)

// IsValidation reports whether err rejects the input itself rather than
// a failed transfer.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrURLTooLarge)
}

// FetchError is returned when a remote document cannot be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UserMessage suggests downloading the file and uploading it manually.
func (e *FetchError) UserMessage() string {
	return fetchErrorUserMessage
}
