package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/envelope"
)

// envelopeKey is the gin context key holding the per-request envelope.
const envelopeKey = "avishan.envelope"

// tokenCookieName is the cookie carrying the session token for browser
// clients that cannot set the Authorization header.
const tokenCookieName = "token"

// maxTrackedBodyBytes caps how much of a request body the audit trail keeps.
const maxTrackedBodyBytes = 64 * 1024

// EnvelopeFromContext returns the request envelope bound by the Envelope
// middleware, or nil when called outside the enveloped chain.
func EnvelopeFromContext(c *gin.Context) *envelope.Envelope {
	value, ok := c.Get(envelopeKey)
	if !ok {
		return nil
	}
	env, _ := value.(*envelope.Envelope)
	return env
}

// EnvelopeOptions configures the envelope middleware.
type EnvelopeOptions struct {
	DefaultLanguage domain.Language
	Tracks          port.TrackRepository
	// NotMonitored lists path prefixes excluded from request tracking.
	NotMonitored []string
	Logger       *zap.Logger
}

// Envelope is the outermost application middleware. It creates the
// per-request envelope, maps every failure through the error taxonomy to
// exactly one wire shape, attaches the rolling session token, emits the
// response, and persists the audit trail.
func Envelope(opts EnvelopeOptions) gin.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		env := envelope.New(c.Request, opts.DefaultLanguage)
		c.Set(envelopeKey, env)

		if monitored(c.Request.URL.Path, opts.NotMonitored) {
			env.IsTracked = true
			env.RequestTrack = &domain.RequestTrack{
				URL:            c.Request.URL.String(),
				Method:         c.Request.Method,
				StartTime:      time.Now().UTC(),
				RequestHeaders: headerDump(c.Request.Header),
				RequestBody:    captureBody(c.Request),
			}
		}

		env.ViewStartTime = time.Now().UTC()

		func() {
			defer func() {
				if r := recover(); r != nil {
					env.Exception = &panicError{value: r, stack: debug.Stack()}
				}
			}()
			c.Next()
		}()

		env.ViewEndTime = time.Now().UTC()

		record := mapException(env)
		attachToken(c, env)
		emit(c, env)
		persist(c, env, record, opts.Tracks, log)
	}
}

// panicError wraps a recovered panic so it travels the same path as any
// other exception.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func monitored(path string, notMonitored []string) bool {
	for _, prefix := range notMonitored {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// captureBody reads the request body for the audit trail and restores it so
// downstream handlers can read it again.
func captureBody(r *http.Request) string {
	if r == nil || r.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxTrackedBodyBytes+1))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) > maxTrackedBodyBytes {
		return string(raw[:maxTrackedBodyBytes])
	}
	return string(raw)
}

func headerDump(h http.Header) string {
	clean := make(map[string]string, len(h))
	for key, values := range h {
		if strings.EqualFold(key, "Authorization") || strings.EqualFold(key, "Cookie") {
			continue
		}
		clean[key] = strings.Join(values, ", ")
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return ""
	}
	return string(raw)
}

// mapException converts env.Exception into the uniform error payload and
// status. It returns a non-nil ExceptionRecord only for unclassified
// failures, which the caller receives as a sanitized 500.
func mapException(env *envelope.Envelope) *domain.ExceptionRecord {
	err := env.Exception
	if err == nil {
		return nil
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		env.StatusCode = authErr.Status()
		env.Response["error_message"] = authErr.Message().In(env.Language)
		env.Response["error_type"] = int(authErr.Kind)
		return nil
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		env.StatusCode = http.StatusExpectationFailed
		env.Response["error_message"] = validationErr.Message.In(env.Language)
		env.Response["error_in_field"] = validationErr.Field
		return nil
	}

	var msgErr *domain.MessageError
	if errors.As(err, &msgErr) {
		status := msgErr.StatusCode
		if status == domain.StatusSwallowed {
			status = http.StatusInternalServerError
		}
		env.StatusCode = status
		env.Response["error_message"] = msgErr.Message.In(env.Language)
		return nil
	}

	// Unclassified failure: the caller sees a sanitized 500 while the full
	// detail lands in the exception record.
	record := &domain.ExceptionRecord{
		ClassTitle:  fmt.Sprintf("%T", err),
		Args:        err.Error(),
		DateCreated: time.Now().UTC(),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		record.Traceback = string(pe.stack)
	}

	env.StatusCode = http.StatusInternalServerError
	env.Response = map[string]any{
		"error_message": domain.MsgInternalError.In(env.Language),
	}
	return record
}

// attachToken puts the rolling token on the response body and the cookie. A
// provider outage keeps the session untouched, so nothing is attached there.
func attachToken(c *gin.Context, env *envelope.Envelope) {
	if !env.AddToken || env.Token == "" || env.JSONUnsafe {
		return
	}
	if env.StatusCode == http.StatusServiceUnavailable || env.StatusCode >= 500 {
		return
	}

	env.Response["token"] = env.Token
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookieName, env.Token, 0, "/", "", false, true)
}

func emit(c *gin.Context, env *envelope.Envelope) {
	if !env.CanTouchResponse || c.Writer.Written() {
		return
	}

	if env.JSONUnsafe {
		contentType := env.RawContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(env.StatusCode, contentType, env.RawBody)
		return
	}

	c.JSON(env.StatusCode, env.Response)
}

// persist writes the request track and any exception record. Audit failures
// are logged and dropped; they never affect the already-sent response.
func persist(c *gin.Context, env *envelope.Envelope, record *domain.ExceptionRecord, tracks port.TrackRepository, log *zap.Logger) {
	if tracks == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	defer cancel()

	var trackID *int64
	if env.IsTracked && env.RequestTrack != nil {
		track := env.RequestTrack
		track.Status = env.StatusCode
		track.EndTime = time.Now().UTC()
		track.AddToken = env.AddToken
		if env.UserUserGroup != nil {
			id := env.UserUserGroup.ID
			track.UserUserGroupID = &id
		}
		if !env.JSONUnsafe {
			if raw, err := json.Marshal(env.Response); err == nil {
				track.ResponseBody = string(raw)
			}
		}

		if err := tracks.CreateTrack(ctx, track); err != nil {
			log.Warn("persist request track failed", zap.Error(err))
		} else {
			trackID = &track.ID
		}
	}

	if record != nil {
		record.RequestTrackID = trackID
		if err := tracks.CreateException(ctx, record); err != nil {
			log.Warn("persist exception record failed", zap.Error(err))
		}
		log.Error("unhandled exception",
			zap.String("view", env.ViewName),
			zap.String("class", record.ClassTitle),
			zap.String("detail", record.Args))
	}
}
