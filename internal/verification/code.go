// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package verification

import (
	"crypto/rand"
	"math/big"

	"github.com/samber/oops"

	"github.com/flicker/credsvc/internal/status"
)

// CodeLength is the number of characters in a verification code.
const CodeLength = 6

// CodeAlphabet is the set codes are drawn from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateCode returns a code of CodeLength characters, each drawn
// uniformly from CodeAlphabet with crypto/rand.
func GenerateCode() (string, error) {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", oops.Code(status.ErrCodeGenerateFailed).Wrapf(err, "read random index")
		}
		buf[i] = CodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidCode reports whether s has the shape of a verification code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
