/*
Package cache provides the storage tiers of the render cache subsystem.

Two tiers exist:

  - Store: a generic in-memory key/value container with TTL, tags, LRU
    eviction and on-demand statistics. Store operations are cheap, never
    fail the caller, and are safe under concurrent use. Every higher
    layer (pre-render strategies, the facade) composes on Store.
  - ArtifactStore: a redis-backed tier for derived artifacts (encoded
    token images). Unlike Store, its operations take a context and may
    suspend on I/O.

Cache keys for per-character renders are composite: the character id plus
a hash of the visually relevant generation options (CharacterKey). This
yields correct hits across option changes without over-invalidating when
an option that does not affect pixels churns.
*/
package cache
