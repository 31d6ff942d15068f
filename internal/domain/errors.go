package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the component boundary it crossed.
type Kind string

const (
	KindScrape     Kind = "scrape"
	KindEmbedding  Kind = "embedding"
	KindStorage    Kind = "storage"
	KindGeneration Kind = "generation"
	KindValidation Kind = "validation"
)

var (
	// ErrNoReviews signals a scrape that reached the page but found nothing
	// to extract.
	ErrNoReviews = errors.New("no reviews found")
	// ErrRateLimited marks an upstream 429. Callers get one bounded retry
	// before this surfaces.
	ErrRateLimited = errors.New("rate limited")
)

// Error attaches a Kind to an underlying cause. Collaborator faults are
// wrapped at the component boundary so callers only ever see the taxonomy.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and message. A nil err is allowed for errors that
// originate here rather than in a collaborator.
func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Ef is E with a formatted message and no cause.
func Ef(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the taxonomy kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
