// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redaction replaces the value of a PII attribute.
const Redaction = "***"

// PIIFields are attribute keys whose values never reach the log output.
var PIIFields = []string{"name", "email", "phone", "ssn", "password"}

var piiKeys = func() map[string]struct{} {
	m := make(map[string]struct{}, len(PIIFields))
	for _, f := range PIIFields {
		m[f] = struct{}{}
	}
	return m
}()

// IsPII reports whether key names a redacted attribute. Case-insensitive.
func IsPII(key string) bool {
	_, ok := piiKeys[strings.ToLower(key)]
	return ok
}

// redactAttr is a slog ReplaceAttr hook. It is applied to attributes inside
// groups as well, so nested PII keys are covered.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if IsPII(a.Key) {
		return slog.String(a.Key, Redaction)
	}
	return a
}

// RedactFields replaces the value of each key=value pair in message whose key
// is in fields. Pairs are terminated by separator.
func RedactFields(fields []string, redaction, message, separator string) string {
	if len(fields) == 0 || message == "" {
		return message
	}
	sep := regexp.QuoteMeta(separator)
	for _, f := range fields {
		re := regexp.MustCompile(regexp.QuoteMeta(f) + "=.*?" + sep)
		message = re.ReplaceAllLiteralString(message, f+"="+redaction+separator)
	}
	return message
}
