package httpapi

import (
	"context"
)

// serverBaseCtx is canceled when the daemon begins shutdown. In-flight
// training streams stop producing output once it is done. Defaults to
// Background if never set.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level context that bounds long-lived
// streams. Passing nil resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// streamContext derives the context a training stream runs under: it follows
// the client connection (request-scoped values included) and is additionally
// canceled on daemon shutdown. The returned cancel must be called when the
// handler ends.
func streamContext(req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(serverBaseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
