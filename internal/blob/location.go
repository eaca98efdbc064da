package blob

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Location addresses an object or prefix, written s3://bucket/key.
type Location struct {
	Bucket string
	Key    string
}

// ParseLocation parses an s3:// URI.
func ParseLocation(s string) (Location, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", s, err)
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("location %q: scheme %q: %w", s, u.Scheme, ErrUnsupported)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("location %q: missing bucket", s)
	}
	return Location{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// Join appends path elements to the key.
func (l Location) Join(elem ...string) Location {
	parts := append([]string{l.Key}, elem...)
	return Location{Bucket: l.Bucket, Key: strings.TrimPrefix(path.Join(parts...), "/")}
}

// Prefix returns the key as a folder prefix ending in '/'. The bucket root
// is the empty prefix.
func (l Location) Prefix() string {
	k := strings.TrimSuffix(l.Key, "/")
	if k == "" {
		return ""
	}
	return k + "/"
}

// Base returns the last key element.
func (l Location) Base() string {
	return path.Base(strings.TrimSuffix(l.Key, "/"))
}
