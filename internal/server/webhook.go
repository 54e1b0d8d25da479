package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const signatureHeader = "X-Hub-Signature-256"

// handleTelegram accepts Bot API updates. Anything not sent as JSON is
// refused.
func (s *Server) handleTelegram(c echo.Context) error {
	if !isJSON(c.Request().Header.Get(echo.HeaderContentType)) {
		return c.NoContent(http.StatusForbidden)
	}
	body, err := s.readBody(c)
	if err != nil {
		return s.bodyError(c, err)
	}
	return s.deliver(c, s.telegram, body)
}

// handleVerify answers the WhatsApp subscription handshake by echoing
// hub.challenge when hub.verify_token matches.
func (s *Server) handleVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	if s.cfg.VerifyToken == "" || !constantTimeEqual(token, s.cfg.VerifyToken) {
		s.logger.Warn("webhook verification refused", "mode", mode)
		return c.NoContent(http.StatusForbidden)
	}
	if mode != "" && mode != "subscribe" {
		return c.NoContent(http.StatusForbidden)
	}
	return c.String(http.StatusOK, c.QueryParam("hub.challenge"))
}

func (s *Server) handleWhatsApp(c echo.Context) error {
	body, err := s.readBody(c)
	if err != nil {
		return s.bodyError(c, err)
	}
	if s.cfg.AppSecret != "" {
		if !verifySignature(body, s.cfg.AppSecret, c.Request().Header.Get(signatureHeader)) {
			s.logger.Warn("whatsapp webhook signature mismatch")
			return c.NoContent(http.StatusForbidden)
		}
	}
	return s.deliver(c, s.whatsapp, body)
}

func (s *Server) deliver(c echo.Context, sink Sink, body []byte) error {
	if err := sink(c.Request().Context(), body); err != nil {
		s.logger.Error("webhook not accepted", "route", c.Path(), "err", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.String(http.StatusOK, "ok")
}

func (s *Server) readBody(c echo.Context) ([]byte, error) {
	r := c.Request()
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(c.Response(), r.Body, s.cfg.MaxBodyBytes))
}

func (s *Server) bodyError(c echo.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return c.NoContent(http.StatusRequestEntityTooLarge)
	}
	return c.NoContent(http.StatusBadRequest)
}

func isJSON(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), echo.MIMEApplicationJSON)
}

// verifySignature checks a "sha256=<hex>" HMAC of body.
func verifySignature(body []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
