// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// signer produces and checks self-contained artifact URL tokens.
//
// Token format: "<expiry unix>.<hex hmac-sha256(id + '.' + expiry)>".
// No server-side state is needed to validate a token, so signed URLs
// survive process restarts as long as the secret is stable.
type signer struct {
	secret []byte
}

func newSigner(secret []byte) *signer {
	return &signer{secret: secret}
}

func (s *signer) sign(id string, expiresAt time.Time) string {
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	return exp + "." + s.mac(id, exp)
}

func (s *signer) verify(id, token string) bool {
	exp, mac, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > expUnix {
		return false
	}
	return hmac.Equal([]byte(mac), []byte(s.mac(id, exp)))
}

func (s *signer) mac(id, exp string) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s.%s", id, exp)
	return hex.EncodeToString(h.Sum(nil))
}
