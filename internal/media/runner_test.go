package media

import (
	"context"
	"io"
	"log/slog"
)

type fakeCall struct {
	name string
	args []string
}

// fakeRunner records every invocation and delegates behavior to onRun,
// which can fabricate output files the same way the real binaries would.
type fakeRunner struct {
	calls []fakeCall
	onRun func(call int, name string, args []string) (commandResult, error)
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	call := len(r.calls)
	r.calls = append(r.calls, fakeCall{name: name, args: args})
	if r.onRun == nil {
		return commandResult{}, nil
	}
	return r.onRun(call, name, args)
}

// argValue returns the value following flag in args, or "" when absent.
func argValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
