// cmd/ingestkit/main.go
package main

import (
	"fmt"
	"os"

	clierrors "github.com/valpere/ingestkit/internal/errors"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// hasFlag checks if a flag is present in command line arguments
func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// flagValue returns the argument following flag, or def.
func flagValue(args []string, flag, def string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return def
}

// positional drops flags (and the values of flags that take one).
func positional(args []string, valued ...string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			if hasFlag(valued, arg) {
				i++
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

// fail reports err and exits with its exit code. --debug adds the raw error.
func fail(err error) {
	fmt.Fprint(os.Stderr, clierrors.FormatForCLI(err, hasFlag(os.Args, "--debug")))
	os.Exit(clierrors.ExitCode(err))
}

func requireConfig(args []string, usage string) string {
	pos := positional(args, "--addr")
	if len(pos) < 1 {
		fmt.Fprintf(os.Stderr, "Error: config file required\n")
		fmt.Fprintf(os.Stderr, "Usage: %s\n", usage)
		os.Exit(1)
	}
	return pos[0]
}

// main function handles CLI arguments and routes to appropriate functions
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]

	var err error
	switch command {
	case "fetch":
		pos := positional(args)
		if len(pos) < 2 {
			fmt.Fprintf(os.Stderr, "Error: config file and at least one URL required\n")
			fmt.Fprintf(os.Stderr, "Usage: ingestkit fetch <config.yaml> <url>...\n")
			os.Exit(1)
		}
		err = runFetch(os.Stdout, pos[0], pos[1:], hasFlag(args, "--links"), hasFlag(args, "--render"))

	case "serve":
		configFile := requireConfig(args, "ingestkit serve <config.yaml> [--addr :8080]")
		err = runServe(configFile, flagValue(args, "--addr", ":8080"))

	case "validate":
		configFile := requireConfig(args, "ingestkit validate <config.yaml>")
		err = runValidate(os.Stdout, configFile, hasFlag(args, "-v") || hasFlag(args, "--verbose"))

	case "template":
		err = runTemplate(os.Stdout, flagValue(args, "--mode", "balanced"))

	case "version", "--version":
		printVersion()

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fail(err)
	}
}

// printUsage displays help information
func printUsage() {
	fmt.Println("ingestkit - performance layer for content ingestion")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ingestkit fetch <config.yaml> <url>... [--links|--render]    Fetch pages through the optimizer")
	fmt.Println("  ingestkit serve <config.yaml> [--addr :8080]                 Serve health, stats and metrics")
	fmt.Println("  ingestkit validate <config.yaml> [-v]                        Validate configuration file")
	fmt.Println("  ingestkit template [--mode <mode>]                           Generate configuration template")
	fmt.Println("  ingestkit version                                            Show version information")
	fmt.Println()
	fmt.Println("Modes:")
	fmt.Println("  balanced       Defaults (default)")
	fmt.Println("  speed_first    Larger cache and batches, more concurrency")
	fmt.Println("  memory_first   Small cache and pool, aggressive GC")
	fmt.Println("  throughput     Big batches, high concurrency and rate")
}

// printVersion displays version information
func printVersion() {
	fmt.Printf("ingestkit %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
