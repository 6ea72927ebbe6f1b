// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"encoding/base64"
	"net/http"
	"strings"
	"unicode/utf8"
)

// AuthorizationHeader is the header carrying header-based credentials.
const AuthorizationHeader = "Authorization"

// basicPrefix is the scheme prefix of a Basic credential.
const basicPrefix = "Basic "

// ExtractCredential returns the Authorization header value, or "" if absent.
func ExtractCredential(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get(AuthorizationHeader)
}

// ExtractSessionToken returns the value of the named cookie, or "" if the
// name is not configured or the cookie is absent.
func ExtractSessionToken(r *http.Request, cookieName string) string {
	if r == nil || cookieName == "" {
		return ""
	}
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// DecodeBasic decodes a "Basic <base64(email:password)>" header value. Any
// malformed step yields ok=false with no indication of which step failed.
func DecodeBasic(header string) (email, password string, ok bool) {
	encoded, found := strings.CutPrefix(header, basicPrefix)
	if !found || encoded == "" {
		return "", "", false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || !utf8.Valid(raw) {
		return "", "", false
	}

	email, password, found = strings.Cut(string(raw), ":")
	if !found {
		return "", "", false
	}
	return email, password, true
}
