package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware assigns each request a correlation id, echoed in
// the response and available to handlers via the context.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("correlation_id", id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

// slackSignatureMiddleware verifies the v0 request signature. In
// development with no signing secret the check is skipped with a warning;
// production startup already refused a missing secret.
func slackSignatureMiddleware(signingSecret string, production bool) gin.HandlerFunc {
	warned := false
	return func(c *gin.Context) {
		if signingSecret == "" {
			if production {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signing secret not configured"})
				return
			}
			if !warned {
				slog.Warn("Signing secret not set, skipping webhook signature verification")
				warned = true
			}
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		verifier, err := slack.NewSecretsVerifier(c.Request.Header, signingSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing signature headers"})
			return
		}
		if _, err := verifier.Write(body); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}
		if err := verifier.Ensure(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
