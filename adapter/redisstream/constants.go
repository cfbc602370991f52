package redisstream

// Field constants (avoid typos/allocs)
const (
	fieldID         = "id"
	fieldBody       = "payload"   // raw []byte to reduce allocs (no base64)
	fieldCreatedAt  = "createdAt" // int64 ns
	fieldMetaPrefix = "meta:"
)

// Reply text raised when the health check loses Redis.
const unreachableText = "redis unreachable"
