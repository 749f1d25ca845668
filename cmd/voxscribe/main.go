package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxscribe/internal/cli"
	"github.com/fmueller/voxscribe/internal/transcribe"
	"github.com/fmueller/voxscribe/internal/whisper"
)

// Exit codes let scripts tell a bad invocation from a missing model or engine.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitModelLoad   = 3
	exitUnavailable = 4
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hint := errorHint(cmd, os.Args[1:], err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case shouldPrintUsageHint(err):
		return exitUsage
	case errors.Is(err, whisper.ErrModelLoad):
		return exitModelLoad
	case errors.Is(err, whisper.ErrEngineUnavailable):
		return exitUnavailable
	default:
		return exitFailure
	}
}

func errorHint(root *cobra.Command, args []string, err error) string {
	switch {
	case shouldPrintUsageHint(err):
		return fmt.Sprintf("Run '%s --help' for usage.", helpHintTarget(root, args))
	case errors.Is(err, whisper.ErrModelLoad):
		return "Run 'voxscribe setup --model <name>' to download a model."
	case errors.Is(err, whisper.ErrEngineUnavailable):
		return "Install whisper-cli, set " + whisper.WhisperPathEnv + ", or use --engine stub."
	case errors.Is(err, transcribe.ErrNoAudio):
		return "Pass a WAV file or enable --bundled-sample."
	default:
		return ""
	}
}

func shouldPrintUsageHint(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"invalid argument",
		"accepts ",
		"requires at least",
		"requires at most",
		"requires between",
		"required flag",
		"missing required",
	}

	for _, pattern := range patterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}

	return false
}

func helpHintTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "voxscribe"
	}

	target := root.CommandPath()
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return target
	}

	found, _, err := root.Find(args)
	if err == nil && found != nil {
		return found.CommandPath()
	}

	return target
}
