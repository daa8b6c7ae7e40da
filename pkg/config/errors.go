package config

import (
	"errors"
	"strings"
)

// Error is a configuration problem at a specific field path, such as
// "queries[1].scoring.size.buckets[2].range".
type Error struct {
	Err  error
	Path string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Errors collects every problem found while validating one file.
type Errors []*Error

func (es Errors) Error() string {
	switch len(es) {
	case 0:
		return "no configuration errors"
	case 1:
		return es[0].Error()
	}
	var b strings.Builder
	b.WriteString("invalid configuration:")
	for _, e := range es {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (es Errors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

type collector struct {
	errs Errors
}

func (c *collector) add(path string, err error) {
	c.errs = append(c.errs, &Error{Path: path, Err: err})
}

func (c *collector) addf(path, msg string) {
	c.add(path, errors.New(msg))
}

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}
