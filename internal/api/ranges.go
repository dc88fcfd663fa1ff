package api

import (
	"errors"
	"strconv"
	"strings"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// parseRange parses a single-range "bytes=" header against a file of size
// bytes and returns the inclusive byte bounds. Supported forms are
// "start-end", "start-" and the suffix form "-n". An end past the file is
// clamped. Anything else, including multiple ranges, is not satisfiable.
func parseRange(header string, size int64) (start, end int64, err error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return 0, 0, errRangeNotSatisfiable
	}
	first, last, ok := strings.Cut(strings.TrimSpace(rng), "-")
	if !ok {
		return 0, 0, errRangeNotSatisfiable
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// Suffix range: the final n bytes.
		n, err := parseOffset(last)
		if err != nil || n == 0 || size == 0 {
			return 0, 0, errRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = parseOffset(first)
	if err != nil || start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	if last == "" {
		return start, size - 1, nil
	}
	end, err = parseOffset(last)
	if err != nil || end < start {
		return 0, 0, errRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, errRangeNotSatisfiable
	}
	return strconv.ParseInt(s, 10, 64)
}
