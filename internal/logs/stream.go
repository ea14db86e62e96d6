package logs

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"
)

// ErrNoSource reports a stream attempt with neither a reachable daemon nor a
// readable log file.
var ErrNoSource = errors.New("no log source available")

// RemoteTailer is the daemon's log endpoint contract, implemented by the
// daemon client.
type RemoteTailer interface {
	TailLogs(ctx context.Context, opts TailOptions) (TailResult, error)
}

// StreamOptions control one Stream call. Lines bounds the initial backlog;
// zero means start at the live end.
type StreamOptions struct {
	Lines  int
	Follow bool
}

const followWait = time.Second

// Stream emits log lines through onLine until the backlog is drained (or,
// in follow mode, until ctx ends). It prefers the daemon's endpoint so lines
// arrive even when the CLI cannot read the file, and falls back to tailing
// path directly when the daemon is unreachable. It reports whether at least
// one line was emitted.
func Stream(ctx context.Context, remote RemoteTailer, path string, opts StreamOptions, onLine func(string)) (bool, error) {
	if remote != nil {
		printed, err := stream(ctx, remote.TailLogs, opts, onLine)
		if err == nil || !Unavailable(err) {
			return printed, err
		}
	}
	if path == "" {
		return false, ErrNoSource
	}
	local := func(ctx context.Context, tailOpts TailOptions) (TailResult, error) {
		return Tail(ctx, path, tailOpts)
	}
	return stream(ctx, local, opts, onLine)
}

func stream(ctx context.Context, fetch func(context.Context, TailOptions) (TailResult, error), opts StreamOptions, onLine func(string)) (bool, error) {
	// A non-positive Lines skips the backlog: the first query lands at the
	// live end and follow mode prints only what arrives afterwards.
	query := TailOptions{Offset: -1, Limit: opts.Lines}

	printed := false
	for {
		result, err := fetch(ctx, query)
		if err != nil {
			return printed, err
		}
		for _, line := range result.Lines {
			if onLine != nil {
				onLine(line)
			}
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		if err := ctx.Err(); err != nil {
			return printed, nil
		}
		query = TailOptions{Offset: result.Offset, Follow: true, Wait: followWait}
	}
}

// Unavailable reports whether err stems from the daemon being unreachable
// rather than from the log read itself.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
