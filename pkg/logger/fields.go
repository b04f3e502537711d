package logger

import "time"

// Common field constructors for structured logging

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field in milliseconds
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d.Milliseconds()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// --- Domain-specific field helpers ---

// WidgetID creates a widget_id field
func WidgetID(id string) Field {
	return Field{Key: "widget_id", Value: id}
}

// WebsiteID creates a website_id field
func WebsiteID(id string) Field {
	return Field{Key: "website_id", Value: id}
}

// KeyID creates an api_key_id field
func KeyID(id string) Field {
	return Field{Key: "api_key_id", Value: id}
}

// KeyPrefix creates a key_prefix field. Only the prefix of an API key may
// ever be logged; never pass the full secret here.
func KeyPrefix(prefix string) Field {
	return Field{Key: "key_prefix", Value: prefix}
}

// CacheStatus creates a cache_status field (HIT or MISS)
func CacheStatus(status string) Field {
	return Field{Key: "cache_status", Value: status}
}

// EventType creates an event_type field
func EventType(t string) Field {
	return Field{Key: "event_type", Value: t}
}

// Component creates a component field
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

// Status creates a status field
func Status(status int) Field {
	return Field{Key: "status", Value: status}
}

// Method creates an HTTP method field
func Method(method string) Field {
	return Field{Key: "method", Value: method}
}

// Path creates an HTTP path field
func Path(path string) Field {
	return Field{Key: "path", Value: path}
}

// RemoteIP creates a remote_ip field
func RemoteIP(ip string) Field {
	return Field{Key: "remote_ip", Value: ip}
}

// Count creates a count field
func Count(count int) Field {
	return Field{Key: "count", Value: count}
}

// Page creates a page field
func Page(page int) Field {
	return Field{Key: "page", Value: page}
}

// Operation creates an operation field
func Operation(op string) Field {
	return Field{Key: "operation", Value: op}
}
