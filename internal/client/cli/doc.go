// Package cli provides the interactive DuoDeck command-line client.
//
// It wires configuration, the sealed local keystore, a document store (the
// gRPC server or PostgreSQL directly) and the pairing, deck and connection
// services behind a small REPL. Typical flow: unlock the keystore with the
// device passphrase, bootstrap or load the device identity, subscribe to it,
// then pair with a partner and share cards.
//
// Key features:
//   - Invite / Accept / Revoke / Breakup
//   - Add text and voice cards
//   - Draw a random unread card and check the cooldown
//   - Offline start with the cached identity
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
