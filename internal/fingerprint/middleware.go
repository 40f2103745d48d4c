package fingerprint

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/logging"
)

const (
	// HeaderEnvelope carries the base64-encoded fingerprint snapshot.
	HeaderEnvelope = "X-Fingerprint"
	// HeaderClientIP is the explicit client-declared IP signal.
	HeaderClientIP = "X-Client-IP"
	// HeaderFeature labels which application feature issued the request.
	HeaderFeature = "X-Feature-Name"

	// DefaultFeature is used when the client declares no feature label.
	DefaultFeature = "unknown"

	contextKey = "fingerprintContext"
)

// Middleware extracts the fingerprint context from the request and attaches
// it to the gin context. It never aborts: decode failures degrade to a nil
// fingerprint and the request continues.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		fc := &Context{
			IP:        resolveIP(c),
			Feature:   c.GetHeader(HeaderFeature),
			UserAgent: c.Request.UserAgent(),
			Timestamp: time.Now().UTC(),
		}
		if fc.Feature == "" {
			fc.Feature = DefaultFeature
		}

		if envelope := c.GetHeader(HeaderEnvelope); envelope != "" {
			rec, err := Decode(envelope)
			if err != nil {
				if errors.Is(err, ErrBadEnvelope) {
					logging.L(c.Request.Context()).Warn("undecodable fingerprint envelope",
						"ip", fc.IP,
						"feature", fc.Feature,
					)
				}
			} else {
				fc.Fingerprint = rec
			}
		}

		c.Set(contextKey, fc)
		c.Next()
	}
}

// FromGin returns the fingerprint context attached by Middleware. When the
// middleware did not run it returns a minimal context so callers always have
// an IP and feature label to work with.
func FromGin(c *gin.Context) *Context {
	if v, ok := c.Get(contextKey); ok {
		if fc, ok := v.(*Context); ok {
			return fc
		}
	}
	return &Context{
		IP:        c.ClientIP(),
		Feature:   DefaultFeature,
		UserAgent: c.Request.UserAgent(),
		Timestamp: time.Now().UTC(),
	}
}

// resolveIP picks the effective client IP by priority: the explicit
// X-Client-IP signal, then the first X-Forwarded-For hop, then the transport
// peer address as seen by gin.
func resolveIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.GetHeader(HeaderClientIP)); ip != "" {
		return ip
	}
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	return c.ClientIP()
}
