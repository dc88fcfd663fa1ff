// Package ident derives stable, filesystem-safe artifact keys from source URLs.
package ident

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrNotRecognized is returned when a URL does not match any known video URL shape.
var ErrNotRecognized = errors.New("source url not recognized")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var watchHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// pathPrefixes are the youtube.com path shapes that carry the ID as the next segment.
var pathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// ExtractID returns the video ID carried by raw. It accepts the canonical
// watch-page form (youtube.com/watch?v=ID) and the short-link form
// (youtu.be/ID), plus the shorts, embed and live variants.
func ExtractID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNotRecognized
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrNotRecognized
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrNotRecognized
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		id = firstSegment(u.Path)
	case watchHosts[host]:
		if u.Path == "/watch" || u.Path == "/watch/" {
			id = u.Query().Get("v")
			break
		}
		for _, prefix := range pathPrefixes {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id = firstSegment(rest)
				break
			}
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", ErrNotRecognized
	}
	return id, nil
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if idx := strings.IndexByte(p, '/'); idx != -1 {
		p = p[:idx]
	}
	return p
}
