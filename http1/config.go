// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

import "time"

const (
	// DefaultMaxHeaderLength .
	DefaultMaxHeaderLength = 4 * 1024 * 1024

	// DefaultPendingLimit .
	DefaultPendingLimit = 1024 * 1024
)

// Config of Decoder and Encoder. Zero values select the defaults.
type Config struct {
	// MaxHeaderLength bounds a single line and the whole header section.
	MaxHeaderLength int

	// PendingLimit is how many body bytes the encoder buffers for an
	// HTTP/1.0 message without Content-Length. A negative value disables
	// buffering.
	PendingLimit int

	// Registry parses field values. DefaultRegistry if nil.
	Registry *Registry

	// Now is used for generated Date fields. time.Now if nil.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxHeaderLength <= 0 {
		c.MaxHeaderLength = DefaultMaxHeaderLength
	}
	if c.PendingLimit == 0 {
		c.PendingLimit = DefaultPendingLimit
	} else if c.PendingLimit < 0 {
		c.PendingLimit = 0
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
