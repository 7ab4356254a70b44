// internal/errors/present.go

// Package errors turns errors returned by the optimization layer into
// messages and exit codes for the command line.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/valpere/ingestkit/internal/utils"
)

// Exit codes returned by the CLI.
const (
	ExitOK       = 0
	ExitGeneral  = 1
	ExitConfig   = 2
	ExitInput    = 3
	ExitNetwork  = 4
	ExitParsing  = 5
	ExitCanceled = 130
)

// Description is a user-facing explanation of an error.
type Description struct {
	Title       string
	Message     string
	Suggestions []string
}

var byCode = map[utils.ErrorCode]Description{
	utils.ErrCodeInvalidConfig: {
		Title:   "Invalid Configuration",
		Message: "The configuration file failed validation.",
		Suggestions: []string{
			"Run 'ingestkit validate <config.yaml> -v' to see the effective values",
			"Compare with 'ingestkit template --mode <mode>'",
		},
	},
	utils.ErrCodeMissingConfig: {
		Title:       "Configuration Not Found",
		Message:     "The configuration file could not be read.",
		Suggestions: []string{"Check the path and file permissions"},
	},
	utils.ErrCodeConfigSyntax: {
		Title:   "Configuration Error",
		Message: "The configuration file has invalid YAML syntax.",
		Suggestions: []string{
			"Check YAML indentation (use spaces, not tabs)",
			"Ensure durations are quoted strings such as \"30s\"",
		},
	},
	utils.ErrCodeInvalidInput: {
		Title:       "Invalid Input",
		Message:     "An argument could not be used.",
		Suggestions: []string{"URLs must be absolute http or https addresses"},
	},
	utils.ErrCodeFetchFailed: {
		Title:   "Fetch Failed",
		Message: "A remote server could not be reached or returned an error.",
		Suggestions: []string{
			"Check if the site is accessible in a browser",
			"Lower rate_limit.base_rate if the server answered 429",
		},
	},
	utils.ErrCodeCircuitOpen: {
		Title:       "Service Unavailable",
		Message:     "Too many consecutive failures; calls are paused.",
		Suggestions: []string{"Wait for circuit_breaker.reset_timeout and try again"},
	},
	utils.ErrCodeParsing: {
		Title:       "Unreadable Content",
		Message:     "The response could not be parsed as a document.",
		Suggestions: []string{"Check that the URL serves HTML"},
	},
	utils.ErrCodeResourceCreation: {
		Title:   "Resource Unavailable",
		Message: "A pooled connection or browser session could not be created.",
		Suggestions: []string{
			"For --render, check that Chrome or Chromium is installed",
		},
	},
	utils.ErrCodeContextCanceled: {
		Title:   "Canceled",
		Message: "The operation was interrupted before it finished.",
	},
}

// Describe explains err for a user. Errors without a known code are
// classified by their message.
func Describe(err error) Description {
	if err == nil {
		return Description{}
	}

	var se *utils.StructuredError
	if stderrors.As(err, &se) {
		if d, ok := byCode[se.Code]; ok {
			if se.UserMessage != "" {
				d.Message = se.UserMessage
			}
			return d
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return Description{
			Title:   "Connection Timeout",
			Message: "The request timed out.",
			Suggestions: []string{
				"Increase fetch.timeout in the configuration",
				"The server might be slow or experiencing issues",
			},
		}
	case strings.Contains(errStr, "no such host"):
		return Description{
			Title:       "Domain Not Found",
			Message:     "Could not resolve the host name.",
			Suggestions: []string{"Check if the URL is spelled correctly", "Check your DNS settings"},
		}
	case strings.Contains(errStr, "connection refused"):
		return Description{
			Title:       "Connection Refused",
			Message:     "The server refused the connection.",
			Suggestions: []string{"The server might be temporarily down"},
		}
	}

	return Description{
		Title:       "Unexpected Error",
		Message:     "An unexpected error occurred during the operation.",
		Suggestions: []string{"Try running the command again"},
	}
}

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch utils.CodeOf(err) {
	case utils.ErrCodeInvalidConfig, utils.ErrCodeMissingConfig, utils.ErrCodeConfigSyntax:
		return ExitConfig
	case utils.ErrCodeInvalidInput:
		return ExitInput
	case utils.ErrCodeFetchFailed, utils.ErrCodeTaskFailed, utils.ErrCodeCircuitOpen:
		return ExitNetwork
	case utils.ErrCodeParsing:
		return ExitParsing
	case utils.ErrCodeContextCanceled:
		return ExitCanceled
	default:
		return ExitGeneral
	}
}

// FormatForCLI renders err with its suggestions. Technical appends the raw
// error text.
func FormatForCLI(err error, technical bool) string {
	d := Describe(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n%s\n", d.Title, d.Message)
	if technical {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err)
	}
	if len(d.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range d.Suggestions {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	return b.String()
}
