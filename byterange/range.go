// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package byterange resolves HTTP Range headers against a known content
// length and streams the selected part of a file. Only a single range is
// served per request.
package byterange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const unitPrefix = "bytes="

// Absent marks a missing bound in a Spec.
const Absent int64 = -1

var (
	// ErrMalformed is returned when the header does not follow the byte-range grammar.
	ErrMalformed = errors.New("malformed range header")
	// ErrUnsatisfiable is returned when a spec cannot be resolved against the content length.
	ErrUnsatisfiable = errors.New("range not satisfiable")
	// ErrMultipart is returned when more than one distinct range is requested.
	ErrMultipart = errors.New("multipart ranges not supported")
)

// Spec is one byte-range-spec as sent by the client. Either bound may be
// Absent: "bytes=10-" has no To, "bytes=-10" has no From and To is the
// suffix length.
type Spec struct {
	From int64
	To   int64
}

// Range is a satisfiable, inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

// Len is the number of bytes covered by r.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats r as a Content-Range header value.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// Parse splits a Range header into its specs.
func Parse(header string) ([]Spec, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, unitPrefix) {
		return nil, ErrMalformed
	}

	var specs []Spec
	for _, part := range strings.Split(header[len(unitPrefix):], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "-")
		if !ok {
			return nil, ErrMalformed
		}
		s := Spec{From: Absent, To: Absent}
		var err error
		if from = strings.TrimSpace(from); from != "" {
			if s.From, err = parseBound(from); err != nil {
				return nil, err
			}
		}
		if to = strings.TrimSpace(to); to != "" {
			if s.To, err = parseBound(to); err != nil {
				return nil, err
			}
		}
		if s.From == Absent && s.To == Absent {
			return nil, ErrMalformed
		}
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return nil, ErrMalformed
	}
	return specs, nil
}

func parseBound(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrMalformed
	}
	return n, nil
}

// Resolve turns s into an absolute range over content of the given length.
// An end past the content is clamped to length-1; a suffix longer than the
// content selects the whole content.
func Resolve(s Spec, length int64) (Range, error) {
	var r Range
	switch {
	case s.From != Absent && s.To != Absent:
		r = Range{Start: s.From, End: s.To}
	case s.From != Absent:
		r = Range{Start: s.From, End: length - 1}
	case s.To != Absent:
		r = Range{Start: max(length-s.To, 0), End: length - 1}
	default:
		return Range{}, fmt.Errorf("%w: at least one bound is required", ErrUnsatisfiable)
	}

	if r.End > length-1 {
		r.End = length - 1
	}
	if r.End < r.Start {
		return Range{}, fmt.Errorf("%w: last byte %d before first byte %d", ErrUnsatisfiable, r.End, r.Start)
	}
	return r, nil
}

// Select parses header and returns the single range it asks for.
func Select(header string, length int64) (Range, error) {
	specs, err := Parse(header)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %w", ErrUnsatisfiable, err)
	}

	var ranges []Range
	for _, s := range specs {
		r, err := Resolve(s, length)
		if err != nil {
			return Range{}, err
		}
		if !contains(ranges, r) {
			ranges = append(ranges, r)
		}
	}

	if len(ranges) > 1 {
		return Range{}, ErrMultipart
	}
	return ranges[0], nil
}

func contains(ranges []Range, r Range) bool {
	for _, x := range ranges {
		if x == r {
			return true
		}
	}
	return false
}
