// Package errors defines the failures a story can raise while it is parsed or
// played. Every one of them is fatal to the operation in progress.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMetadata indicates the front matter failed to parse or validate
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrDuplicateID indicates two chapters resolved to the same id
	ErrDuplicateID = errors.New("duplicate chapter id")

	// ErrEmptyChapterID indicates a heading yielded no usable id
	ErrEmptyChapterID = errors.New("chapter id cannot be empty, either use a non-empty chapter title or explicitly specify an id")

	// ErrChapterNotFound indicates a navigation target names no chapter
	ErrChapterNotFound = errors.New("chapter not found")

	// ErrInvalidInput indicates a submitted field could not be coerced to its type
	ErrInvalidInput = errors.New("invalid input")
)

// MetadataError carries the raw front matter that could not be loaded.
type MetadataError struct {
	Content string
	Err     error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("invalid metadata:\n```\n%s\n```\n%v", e.Content, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

func (e *MetadataError) Is(target error) bool {
	return target == ErrInvalidMetadata
}

// DuplicateIDError names the chapter id that appeared twice.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("two chapters with the same id `%s`", e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// ChapterNotFoundError names the target that could not be resolved.
type ChapterNotFoundError struct {
	Target string
}

func (e *ChapterNotFoundError) Error() string {
	return fmt.Sprintf("chapter `%s` not found", e.Target)
}

func (e *ChapterNotFoundError) Is(target error) bool {
	return target == ErrChapterNotFound
}

// InputError names the field and the raw text that failed to decode.
type InputError struct {
	Name  string
	Input string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input `%s` for variable `%s`: %v", e.Input, e.Name, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewMetadataError wraps a decode or validation failure of raw front matter.
func NewMetadataError(content string, err error) *MetadataError {
	return &MetadataError{Content: content, Err: err}
}

// NewInputError wraps a coercion failure of a submitted field.
func NewInputError(name, input string, err error) *InputError {
	return &InputError{Name: name, Input: input, Err: err}
}

// IsParseError reports whether err aborted story construction.
func IsParseError(err error) bool {
	return errors.Is(err, ErrInvalidMetadata) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrEmptyChapterID)
}

// IsPlaybackError reports whether err was raised by the playback loop itself
// rather than by a hook or prompter.
func IsPlaybackError(err error) bool {
	return errors.Is(err, ErrChapterNotFound) || errors.Is(err, ErrInvalidInput)
}
