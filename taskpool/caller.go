// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package taskpool

import (
	"fmt"
	"runtime"

	"github.com/lesismal/nbcodec/logging"
)

// call runs f and converts a panic into an error, logging the stack.
func call(f func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			logging.Error("taskpool call failed: %v\n%s", v, buf)
			err = fmt.Errorf("%w: %v", ErrPanic, v)
		}
	}()
	return f()
}
