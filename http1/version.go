// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import "strconv"

// Version is an HTTP protocol version.
type Version struct {
	Major int
	Minor int
}

var (
	// HTTP10 .
	HTTP10 = Version{Major: 1, Minor: 0}
	// HTTP11 .
	HTTP11 = Version{Major: 1, Minor: 1}
)

// String renders the version as it appears on the start line.
func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v is major.minor or later.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// ParseVersion parses "HTTP/" DIGIT "." DIGIT.
func ParseVersion(s string) (Version, error) {
	if len(s) != 8 || s[:5] != "HTTP/" || s[6] != '.' || !isNum(s[5]) || !isNum(s[7]) {
		return Version{}, ErrInvalidHTTPVersion
	}
	return Version{Major: int(s[5] - '0'), Minor: int(s[7] - '0')}, nil
}
