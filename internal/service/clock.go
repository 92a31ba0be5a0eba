// Package service holds the business rules behind the HTTP handlers.
package service

import "time"

// Clock returns the current time. Services compare it against stored UTC
// timestamps, so implementations should return UTC.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
