package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func signatureRouter(secret string, production bool) http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(slackSignatureMiddleware(secret, production))
	r.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func sign(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureRequiredInProduction(t *testing.T) {
	r := signatureRouter("", true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("x")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignatureSkippedInDevelopment(t *testing.T) {
	r := signatureRouter("", false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("x")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignatureMissingHeaders(t *testing.T) {
	r := signatureRouter("secret", false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("x")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignatureRejected(t *testing.T) {
	r := signatureRouter("secret", false)

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("body"))
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sign("wrong-secret", ts, "body"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignatureAccepted(t *testing.T) {
	r := signatureRouter("secret", false)

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("body"))
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sign("secret", ts, "body"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
