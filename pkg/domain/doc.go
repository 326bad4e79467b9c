// Package domain defines the core types shared by the response optimization
// pipeline, its HTTP middleware and its operational surfaces.
//
// This package contains pure domain types with ZERO external dependencies outside the
// Go standard library. Other packages (optimizer, middleware, telemetry, config)
// depend on these types. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// Payloads are plain `any` trees: nil, Undefined, strings, booleans, numbers,
// time.Time, *big.Int, []any and map[string]any.
package domain
