// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redisstore

// SetBeforeReplaceExec installs fn to run after Replace reads the index and
// before it commits.
func SetBeforeReplaceExec(s *Store, fn func()) {
	s.beforeReplaceExec = fn
}
