package blogcore

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")

	// ErrReadOnlyTx is returned by writes inside Store.View.
	ErrReadOnlyTx = errors.New("write in read-only transaction")
)

var (
	ErrTitleRequired   = fmt.Errorf("%w: title is required", ErrValidation)
	ErrCommentRequired = fmt.Errorf("%w: comment text is required", ErrValidation)
	ErrPostNotFound    = fmt.Errorf("post %w", ErrNotFound)
	ErrTagNotFound     = fmt.Errorf("tag %w", ErrNotFound)
	ErrImageNotFound   = fmt.Errorf("image %w", ErrNotFound)
	ErrBlobNotFound    = fmt.Errorf("blob %w", ErrNotFound)
	ErrNotAuthor       = fmt.Errorf("%w: only the author can change this post", ErrForbidden)

	// ErrAlreadyLiked matches both ErrForbidden and ErrConflict.
	ErrAlreadyLiked = fmt.Errorf("%w: post already liked: %w", ErrForbidden, ErrConflict)
)
