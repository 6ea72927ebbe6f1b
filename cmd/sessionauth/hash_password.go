// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/sessionauth/internal/auth"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print an argon2id hash of a password read from stdin",
		Long: `Read one line from stdin and print its argon2id hash, for seeding
hashed_password values by hand.`,
		Args: cobra.NoArgs,
		RunE: runHashPassword,
	}
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return oops.Code("HASH_PASSWORD_FAILED").With("operation", "read stdin").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")

	hash, err := auth.NewArgon2idHasher().Hash(password)
	if err != nil {
		return err
	}
	cmd.Println(hash)
	return nil
}
