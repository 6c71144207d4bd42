// Package tokenstore provides persistent storage for the serialized
// integration entry, which carries the OAuth2 session.
//
// Two backends with different deployment tradeoffs:
//   - File: local filesystem storage with atomic writes and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// Both backends are writable; refreshed tokens are written back on every rotation.
package tokenstore
