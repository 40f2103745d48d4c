package fraud

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avelar/shopfence/internal/fingerprint"
	"github.com/avelar/shopfence/internal/metrics"
	"github.com/avelar/shopfence/internal/session"
	"github.com/avelar/shopfence/internal/validation"
)

const (
	// ContextKeyResult is the gin context key for the pipeline *Result.
	ContextKeyResult = "fraudResult"

	// maxBodyPeek bounds how much of the body is read for email extraction.
	maxBodyPeek = 1 << 20 // 1MB
)

// Middleware runs the antifraud pipeline on every request. Blocked requests
// get a 403 with the score and factor list; everything else is annotated and
// continues downstream.
func Middleware(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The email is peeked even when a bearer token is present: a token
		// that fails to resolve must still fall through to email identity,
		// or attaching garbage credentials would hide a caller's history.
		req := &Request{
			Token:     session.BearerToken(c),
			BodyEmail: peekEmail(c),
			Context:   fingerprint.FromGin(c),
		}

		result := o.Analyze(c.Request.Context(), req)
		c.Set(ContextKeyResult, result)

		if result.Risk.ShouldBlock {
			metrics.RequestsBlockedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "Access blocked due to suspicious activity",
				"risk_score": result.Risk.Score,
				"factors":    result.Risk.Factors,
				"message":    "Your request has been flagged as potentially fraudulent",
			})
			return
		}

		c.Next()
	}
}

// ResultFromGin returns the pipeline result attached by Middleware, or the
// continue verdict when the middleware did not run.
func ResultFromGin(c *gin.Context) *Result {
	if v, ok := c.Get(ContextKeyResult); ok {
		if r, ok := v.(*Result); ok {
			return r
		}
	}
	return ContinueResult()
}

// peekEmail extracts an email field from a JSON request body without
// consuming it: the body is re-wrapped so downstream binding still works.
// Only pre-authentication routes carry identity this way; any parse trouble
// just means no email signal.
func peekEmail(c *gin.Context) string {
	if c.Request.Body == nil || c.Request.Method != http.MethodPost {
		return ""
	}
	if ct := c.ContentType(); !strings.HasPrefix(ct, "application/json") {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyPeek))
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return validation.NormalizeEmail(payload.Email)
}
