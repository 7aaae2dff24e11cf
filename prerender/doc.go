/*
Package prerender turns "things that might be viewed soon" into warm
cache entries before the user asks for them.

A Context describes what triggered the work (a typed Trigger, not a free
string) plus the tokens, characters or project involved. The Manager
routes a Context to every registered Strategy whose ShouldTrigger
accepts it; each Strategy bounds its own workload, skips entries that
are already cached, and encodes the rest through a shared Encoder.

Encoding is the only expensive step. The Encoder has two
implementations selected once at startup: an inline one that encodes on
the calling goroutine, and a pooled one backed by a bounded worker pool
that acts as a hard ceiling on simultaneous encode operations.
Strategies use settle-all semantics: one item failing to encode never
aborts the batch, it is just counted.
*/
package prerender
