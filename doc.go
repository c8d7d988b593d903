// Package authcore is an embeddable identity and session core: password
// hashing and policy, signed access tokens with rotating single-use
// refresh tokens, concurrent-session caps, failed-login lockout, and
// process-local rate limiting.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder],
// [Config], the [Directory] integration interface, and value types.
// Callers bring their own account database by implementing Directory;
// refresh-token persistence is pluggable through the session package's
// Store interface (in-memory, Redis, and PostgreSQL implementations
// ship with the module).
//
// # Error contract
//
// Every failure mode maps to a sentinel in errors.go and is matchable
// with errors.Is. Details ride on wrapping types: rate-limit rejections
// carry a retry-after hint, password policy failures carry the violated
// rules.
package authcore
