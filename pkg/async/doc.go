// Package async runs fire-and-forget work off the capture path with panic
// recovery and timeouts. Group additionally tracks in-flight tasks so the
// agent can wait for them during shutdown.
package async
