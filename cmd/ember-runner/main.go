// Command ember-runner executes one call of a wasm artifact for the process
// backend. It reads the encoded request from stdin, writes the encoded
// response to stdout and exits. A non-zero exit means the call failed; the
// reason is on stderr.
//
// Any binary accepting the same arguments can replace it, for example a
// wrapper that sandboxes the child before running the artifact.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/artifact/wasm"
	"github.com/spf13/pflag"
)

const (
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	loc, err := parseArgs(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ember-runner: %v\n", err)
		return exitUsage
	}

	request, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "ember-runner: failed to read request: %v\n", err)
		return exitFailed
	}

	loader := wasm.NewLoader(ctx, wasm.Config{MaxInstances: 1})
	defer loader.Close(context.Background())

	module, err := loader.Load(ctx, loc)
	if err != nil {
		fmt.Fprintf(stderr, "ember-runner: %v\n", err)
		return exitFailed
	}
	defer module.Close(context.Background())

	callable, ok := module.(artifact.Callable)
	if !ok {
		fmt.Fprintf(stderr, "ember-runner: %s cannot be called in process\n", loc.Path)
		return exitFailed
	}

	out, err := callable.Call(ctx, request)
	if err != nil {
		fmt.Fprintf(stderr, "ember-runner: %v\n", err)
		return exitFailed
	}
	defer out.Release()

	if _, err := stdout.Write(out.Bytes()); err != nil {
		fmt.Fprintf(stderr, "ember-runner: failed to write response: %v\n", err)
		return exitFailed
	}
	return 0
}

// parseArgs reads `--abi <abi> [--wasi] [--allow-host h]... [--config k=v]... <path>`
func parseArgs(args []string, stderr io.Writer) (artifact.Location, error) {
	fs := pflag.NewFlagSet("ember-runner", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	abi := fs.String("abi", string(artifact.ABIRaw), "calling convention of the artifact (raw or extism)")
	enableWASI := fs.Bool("wasi", false, "provide WASI to the artifact")
	allowedHosts := fs.StringArray("allow-host", nil, "host the artifact may reach (repeatable)")
	config := fs.StringArray("config", nil, "config entry as key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return artifact.Location{}, err
	}
	if fs.NArg() != 1 {
		return artifact.Location{}, fmt.Errorf("expected exactly one artifact path, got %d", fs.NArg())
	}

	loc := artifact.Location{
		Path:         fs.Arg(0),
		ABI:          artifact.ABI(*abi),
		EnableWASI:   *enableWASI,
		AllowedHosts: *allowedHosts,
	}
	switch loc.ABI {
	case artifact.ABIRaw, artifact.ABIExtism:
	default:
		return artifact.Location{}, fmt.Errorf("%w: %q", artifact.ErrUnsupportedABI, *abi)
	}

	if len(*config) > 0 {
		loc.Config = make(map[string]string, len(*config))
		for _, entry := range *config {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || key == "" {
				return artifact.Location{}, fmt.Errorf("invalid config entry %q: expected key=value", entry)
			}
			loc.Config[key] = value
		}
	}
	return loc, nil
}
