// Package optimizer shapes API response payloads before they are written.
//
// The pipeline has five independently usable stages:
//
//	Project      field selection, including dotted nested paths
//	Sanitize     depth-bounded, cycle-safe copy with sentinel substitution
//	Serializer   fast path for flat data, guarded or streamed path otherwise
//	Compressor   threshold-gated, Accept-Encoding negotiated compression
//	Stats        owned accumulator of compression effectiveness
//
// Optimizer composes them in that order; pruning of empty values, when
// enabled, runs after sanitization so it never walks a cycle.
package optimizer
