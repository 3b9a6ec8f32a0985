package httpapi

import "context"

// serverBaseCtx is a process-level context canceled on shutdown so
// in-flight proxy calls unwind promptly instead of outliving the process.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level base context.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context canceled when either a or b is done. The
// returned cancel func must be deferred by the caller to release the
// watcher goroutine once the handler returns.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
