// Package storage provides the agent's local key/value persistence.
//
// Every backend implements KV: whole-value Get/Set/Delete keyed by a short
// name such as "cookie-consent" or "analytics_events". Backends:
//
//   - MemoryKV: process memory, for tests and ephemeral agents
//   - FileSystemKV: one file per key, atomic replace on write
//   - RedisKV: redis strings under a configurable prefix
//   - SQLKV: a single glimpse_kv table on SQLite or PostgreSQL
//
// Select one with New(ctx, Config).
package storage
