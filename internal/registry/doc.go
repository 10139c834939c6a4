// Package registry resolves an external user identifier (a WhatsApp number,
// a Matrix user id) to the remote conversation handle that carries that
// user's dialogue with the assistant.
//
// Handles are created lazily on first contact. Concurrent resolutions for
// the same user share one creation call; different users never wait on
// each other. Handle storage is pluggable through HandleStore:
//
//   - MemoryStore: process lifetime, the default
//   - RedisStore: shared between gateway replicas, optional TTL
//   - store.SQLiteStore: survives restarts
package registry
