package extract

import (
	"net/url"
	"regexp"
	"strings"
)

const baseURL = "https://www.tiktok.com"

// canonicalRe matches the long video URL form and captures author and ID.
var canonicalRe = regexp.MustCompile(`https://www\.tiktok\.com/@([\w.-]+)/video/(\d+)`)

// shortRe matches the share-link forms. The trailing opaque code doubles as
// the dedup key since the canonical ID is not present in the URL.
var shortRe = regexp.MustCompile(`https://(?:vm\.tiktok\.com|www\.tiktok\.com/t)/([A-Za-z0-9]+)/?`)

// BuildSearchURL returns the keyword search page for a query.
func BuildSearchURL(query string) string {
	return baseURL + "/search?q=" + url.QueryEscape(query)
}

// BuildChannelURL returns the profile page for a channel. A leading @ on the
// name is accepted and normalized away.
func BuildChannelURL(channel string) string {
	return baseURL + "/@" + strings.TrimPrefix(strings.TrimSpace(channel), "@")
}

// ParseVideoURL derives (username, id) from a video URL. For short share
// links the username is unknown and the opaque trailing segment is the ID.
// ok is false when neither form matches or the ID segment is empty.
func ParseVideoURL(raw string) (username, id string, ok bool) {
	if m := canonicalRe.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	if m := shortRe.FindStringSubmatch(raw); m != nil {
		return "", m[1], true
	}
	return "", "", false
}
