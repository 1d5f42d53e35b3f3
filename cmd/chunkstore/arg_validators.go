package main

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"chunkstore/internal/checksum"
)

var fileIDPattern = regexp.MustCompile(`^fi-[0-9a-z]{8}$`)

func requireAtLeastArgs(min int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < min {
			return errors.New(message)
		}
		return nil
	}
}

func requireExactlyArgs(count int, message string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != count {
			return errors.New(message)
		}
		return nil
	}
}

func requireFileID(cmd *cobra.Command, args []string) error {
	if err := requireExactlyArgs(1, "file id is required")(cmd, args); err != nil {
		return err
	}
	return validateFileIDs(args)
}

func requireFileIDs(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("file id is required")
	}
	return validateFileIDs(args)
}

func requireFileIDAndDest(cmd *cobra.Command, args []string) error {
	if err := requireExactlyArgs(2, "file id and destination are required")(cmd, args); err != nil {
		return err
	}
	return validateFileIDs(args[:1])
}

func validateFileIDs(ids []string) error {
	for _, id := range ids {
		if !fileIDPattern.MatchString(id) {
			return fmt.Errorf("invalid file id %q (expected fi-xxxxxxxx)", id)
		}
	}
	return nil
}

func requireChecksumArgs(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("checksum is required")
	}
	for _, arg := range args {
		if !checksum.Valid(arg) {
			return fmt.Errorf("invalid checksum %q (expected 40 hex characters)", arg)
		}
	}
	return nil
}
