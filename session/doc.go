// Package session persists refresh tokens, the access-token blacklist and
// per-session device metadata in Redis.
//
// # Key layout
//
//	refresh:{<userId>}:<tokenId>  string, the refresh token, TTL = refresh lifetime
//	session:{<userId>}:<tokenId>  hash, device metadata, same TTL as the refresh key
//	blacklist:<tokenId>           "1", TTL = remaining life of the blacklisted access token
//
// The braces are literal: the user id is a Redis Cluster hash tag, with '%'
// and '}' percent-encoded. Per-user SCAN patterns therefore stop at the
// closing brace, and the refresh and session keys of a user share a slot.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT parse
// tokens or decide policy; the Engine does.
package session
