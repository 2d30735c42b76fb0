package reactor

import (
	"context"

	"google.golang.org/grpc"
)

// RemoteActionCacheInvoker performs the actual GetActionResult /
// UpdateActionResult unary calls against a remote
// build.bazel.remote.execution.v2.ActionCache service. The generated
// protobuf stubs for that service are themselves out of scope for this
// core (§1); callers wire their own generated client and adapt it to
// this narrow shape.
type RemoteActionCacheInvoker interface {
	GetActionResult(ctx context.Context, conn grpc.ClientConnInterface, actionKey string) (ActionResult, bool, error)
	UpdateActionResult(ctx context.Context, conn grpc.ClientConnInterface, actionKey string, result ActionResult) error
}

// remoteActionCache is the "remote-gRPC" binding for config's
// actionCacheConfig: every Get/Put goes out over an existing
// *grpc.ClientConn using the caller-supplied invoker.
type remoteActionCache struct {
	conn    grpc.ClientConnInterface
	invoker RemoteActionCacheInvoker
	ctx     context.Context
}

// NewRemoteActionCache returns the gRPC-backed ActionCache binding. ctx
// bounds every call issued through it (the core has no per-call context
// parameter in its ActionCache interface, matching the synchronous
// get/put shape in §6).
func NewRemoteActionCache(ctx context.Context, conn grpc.ClientConnInterface, invoker RemoteActionCacheInvoker) ActionCache {
	return &remoteActionCache{conn: conn, invoker: invoker, ctx: ctx}
}

func (r *remoteActionCache) Get(actionKey string) (ActionResult, bool, error) {
	return r.invoker.GetActionResult(r.ctx, r.conn, actionKey)
}

func (r *remoteActionCache) Put(actionKey string, result ActionResult) error {
	return r.invoker.UpdateActionResult(r.ctx, r.conn, actionKey, result)
}
