package xbroker

import (
	"strings"
	"time"
)

// ReservedHeaderPrefix marks internal transport metadata that is never forwarded.
const ReservedHeaderPrefix = "MT-"

// Well-known header keys.
const (
	HeaderTimeToLive = "time-to-live"

	HeaderReason             = "MT-Reason"
	HeaderFaultExceptionType = "MT-Fault-ExceptionType"
	HeaderFaultMessage       = "MT-Fault-Message"
	HeaderFaultTimestamp     = "MT-Fault-Timestamp"
	HeaderHostMachineName    = "MT-Host-MachineName"
	HeaderHostProcessID      = "MT-Host-ProcessId"
	HeaderSourceAddress      = "MT-Source-Address"
)

// Headers maps header keys to values. Values are strings, numbers, durations or
// anything the backend codec can encode.
type Headers map[string]any

// Get returns the value stored under key.
func (h Headers) Get(key string) (any, bool) {
	v, ok := h[key]
	return v, ok
}

// Set stores value under key.
func (h Headers) Set(key string, value any) {
	h[key] = value
}

// TimeToLive returns the time-to-live header when it holds a duration.
func (h Headers) TimeToLive() (time.Duration, bool) {
	switch v := h[HeaderTimeToLive].(type) {
	case time.Duration:
		return v, true
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
	}
	return 0, false
}

// SetTimeToLive stores d under the time-to-live header.
func (h Headers) SetTimeToLive(d time.Duration) {
	h[HeaderTimeToLive] = d
}

// Clone returns a shallow copy.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// IsReservedHeader reports whether key belongs to internal transport metadata.
func IsReservedHeader(key string) bool {
	return strings.HasPrefix(key, ReservedHeaderPrefix)
}

// CopyForwardedHeaders copies every entry of src whose key is not reserved into dst.
// Existing entries in dst are overwritten.
func CopyForwardedHeaders(dst, src Headers) {
	for k, v := range src {
		if IsReservedHeader(k) {
			continue
		}
		dst[k] = v
	}
}

// ForwardedHeaders returns the subset of src that may be propagated.
func ForwardedHeaders(src Headers) Headers {
	out := make(Headers, len(src))
	CopyForwardedHeaders(out, src)
	return out
}
