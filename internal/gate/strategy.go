// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"strings"

	"github.com/samber/oops"
)

// Strategy selects how requests authenticate.
type Strategy int

// Supported strategies.
const (
	// StrategyNone disables the gate entirely.
	StrategyNone Strategy = iota
	// StrategyBasic authenticates with a Basic Authorization header.
	StrategyBasic
	// StrategySession authenticates with a session cookie held in memory.
	StrategySession
	// StrategySessionExpiring is StrategySession with a maximum session age.
	StrategySessionExpiring
	// StrategySessionDurable is StrategySessionExpiring with persisted sessions.
	StrategySessionDurable
)

var strategyNames = map[Strategy]string{
	StrategyNone:            "none",
	StrategyBasic:           "basic_auth",
	StrategySession:         "session_auth",
	StrategySessionExpiring: "session_exp_auth",
	StrategySessionDurable:  "session_db_auth",
}

// ParseStrategy converts a configuration value to a Strategy. The empty
// string selects StrategyNone.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return StrategyNone, nil
	case "basic", "basic_auth":
		return StrategyBasic, nil
	case "session", "session_auth":
		return StrategySession, nil
	case "session_exp", "session_exp_auth":
		return StrategySessionExpiring, nil
	case "session_db", "session_db_auth":
		return StrategySessionDurable, nil
	default:
		return StrategyNone, oops.Code("GATE_UNKNOWN_STRATEGY").
			With("strategy", s).
			Errorf("unknown auth strategy %q", s)
	}
}

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// UsesSessions reports whether the strategy authenticates with a session cookie.
func (s Strategy) UsesSessions() bool {
	return s == StrategySession || s == StrategySessionExpiring || s == StrategySessionDurable
}

// Expires reports whether sessions under this strategy have a maximum age.
func (s Strategy) Expires() bool {
	return s == StrategySessionExpiring || s == StrategySessionDurable
}

// Durable reports whether sessions under this strategy survive restarts.
func (s Strategy) Durable() bool {
	return s == StrategySessionDurable
}
