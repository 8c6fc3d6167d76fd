// ABOUTME: Package documentation for the gateway orchestrator.
// ABOUTME: Describes the connection model and how units reach the client.

// Package gateway hosts the WebSocket protocol endpoint and the HTTP API.
//
// One Gateway owns the persistent pieces: the SQLite-backed store, the
// credential vault, the task and thread managers, and the execution unit
// registry. Each WebSocket client gets a connection with its own session
// state machine and mailbox; spawned execution units never write to the
// socket directly, they send through the mailbox and the connection loop
// relays in arrival order.
//
// Authentication is per connection. A TOTP challenge is issued when a
// second factor is enrolled and verifiable; passing it yields a bearer
// token the HTTP API accepts. An enrolled factor that cannot be
// verified (sealed vault) leaves the connection unauthenticated. Vault access is gated separately: each
// session must present the vault password in an UnlockVault frame before
// any secrets frame is served.
package gateway
