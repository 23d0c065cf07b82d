// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package httphelpers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OpenEnd marks a range that runs through the last byte.
const OpenEnd int64 = -1

var (
	ErrMalformedRange = errors.New("malformed range header")
	ErrMultipleRanges = errors.New("multiple ranges are not supported")
)

// Range is a single inclusive byte range from a Range header.
type Range struct {
	Start int64
	End   int64
}

// ParseRange parses a single "bytes=" range. Suffix ranges ("-n") are
// resolved against size; "a-" yields End == OpenEnd. Bounds are left to the
// caller, so "a-b" past the end of the resource parses fine.
func ParseRange(header string, size int64) (Range, error) {
	header = strings.TrimSpace(header)
	unit, spec, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	if strings.Contains(spec, ",") {
		return Range{}, fmt.Errorf("%w: %q", ErrMultipleRanges, header)
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		n, err := parseOffset(last)
		if err != nil || n == 0 {
			return Range{}, fmt.Errorf("%w: bad suffix length in %q", ErrMalformedRange, header)
		}
		if size <= 0 {
			return Range{}, fmt.Errorf("%w: suffix range on empty resource", ErrMalformedRange)
		}
		return Range{Start: max(size-n, 0), End: size - 1}, nil
	}

	start, err := parseOffset(first)
	if err != nil {
		return Range{}, fmt.Errorf("%w: bad start in %q", ErrMalformedRange, header)
	}
	if last == "" {
		return Range{Start: start, End: OpenEnd}, nil
	}
	end, err := parseOffset(last)
	if err != nil {
		return Range{}, fmt.Errorf("%w: bad end in %q", ErrMalformedRange, header)
	}
	return Range{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}

// ContentRange formats a Content-Range header value for a resolved range.
func ContentRange(start, end, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, size)
}
