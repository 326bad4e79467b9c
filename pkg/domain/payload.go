package domain

// Sentinel values substituted for containers that cannot be represented further.
const (
	SentinelCircular = "[Circular reference]"
	SentinelMaxDepth = "[Max depth reached]"
)

type undefined struct{}

// String renders the marker the way the fast serializer emits it.
func (undefined) String() string { return "undefined" }

// Undefined marks a value that is present as a key but carries no value.
// It is distinct from nil, which is an explicit null.
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// SerializationStrategy names the serializer path used for a response.
type SerializationStrategy string

const (
	StrategyFast     SerializationStrategy = "fast"
	StrategyGuarded  SerializationStrategy = "guarded"
	StrategyStreamed SerializationStrategy = "streamed"
)

// SizeWarning signals that a response exceeded the configured size limit.
// The response itself is never blocked or truncated.
type SizeWarning struct {
	Oversized      bool   `json:"oversized"`
	EstimatedSize  int    `json:"estimated_size"`
	Limit          int    `json:"limit"`
	Recommendation string `json:"recommendation,omitempty"`
}
