// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package http1

var (
	numCharMap    = [256]bool{}
	hexCharMap    = [256]bool{}
	hexValueMap   = [256]byte{}
	targetCharMap = [256]bool{}
)

func init() {
	for i := byte(0); i < 10; i++ {
		numCharMap['0'+i] = true
		hexCharMap['0'+i] = true
		hexValueMap['0'+i] = i
	}
	for i := byte(0); i < 6; i++ {
		hexCharMap['A'+i] = true
		hexCharMap['a'+i] = true
		hexValueMap['A'+i] = 10 + i
		hexValueMap['a'+i] = 10 + i
	}

	// request-target: any visible octet, obs-text included
	for i := 0x21; i < 0x100; i++ {
		targetCharMap[i] = i != 0x7f
	}
}

func isNum(c byte) bool {
	return numCharMap[c]
}

func isHex(c byte) bool {
	return hexCharMap[c]
}

func isTargetChar(c byte) bool {
	return targetCharMap[c]
}

func isOWS(c byte) bool {
	return c == ' ' || c == '\t'
}
