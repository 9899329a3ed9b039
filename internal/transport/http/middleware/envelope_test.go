package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Afshari9978/avishan/internal/core/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTracks struct {
	tracks     []*domain.RequestTrack
	exceptions []*domain.ExceptionRecord
	trackErr   error
}

func (f *fakeTracks) CreateTrack(_ context.Context, track *domain.RequestTrack) error {
	if f.trackErr != nil {
		return f.trackErr
	}
	track.ID = int64(len(f.tracks) + 1)
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeTracks) CreateException(_ context.Context, record *domain.ExceptionRecord) error {
	f.exceptions = append(f.exceptions, record)
	return nil
}

func serveEnveloped(t *testing.T, opts EnvelopeOptions, req *http.Request, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Use(Envelope(opts))
	router.Handle(req.Method, "/test", handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestEnvelopeSuccessAndTracking(t *testing.T) {
	tracks := &fakeTracks{}
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN, Tracks: tracks}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"probe":1}`))
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		require.NotNil(t, env)
		env.Response["ok"] = true
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["ok"])

	require.Len(t, tracks.tracks, 1)
	track := tracks.tracks[0]
	assert.Equal(t, http.MethodPost, track.Method)
	assert.Equal(t, http.StatusOK, track.Status)
	assert.Equal(t, `{"probe":1}`, track.RequestBody)
	assert.Contains(t, track.ResponseBody, `"ok":true`)
	assert.False(t, track.EndTime.Before(track.StartTime))
}

func TestEnvelopeNotMonitoredSkipsTracking(t *testing.T) {
	tracks := &fakeTracks{}
	opts := EnvelopeOptions{
		DefaultLanguage: domain.LanguageEN,
		Tracks:          tracks,
		NotMonitored:    []string{"/test"},
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, tracks.tracks)
}

func TestEnvelopeHandlerCanStillReadBody(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN, Tracks: &fakeTracks{}}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"echo":"hello"}`))
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(c.Request.Body).Decode(&payload))
		env.Response["echo"] = payload["echo"]
	})

	assert.Equal(t, "hello", decodeBody(t, w)["echo"])
}

func TestEnvelopeAuthErrorMapping(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN}

	t.Run("access denied is 403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := serveEnveloped(t, opts, req, func(c *gin.Context) {
			EnvelopeFromContext(c).Exception = domain.NewAuthError(domain.AuthAccessDenied)
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(domain.AuthAccessDenied), body["error_type"])
		assert.NotEmpty(t, body["error_message"])
	})

	t.Run("token integrity failure is 424", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := serveEnveloped(t, opts, req, func(c *gin.Context) {
			EnvelopeFromContext(c).Exception = domain.NewAuthError(domain.AuthTokenError)
		})

		assert.Equal(t, http.StatusFailedDependency, w.Code)
		assert.Equal(t, float64(domain.AuthTokenError), decodeBody(t, w)["error_type"])
	})
}

func TestEnvelopeValidationErrorMapping(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN}

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		EnvelopeFromContext(c).Exception = domain.NewValidationError("email", domain.MsgFieldNotValid)
	})

	assert.Equal(t, http.StatusExpectationFailed, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "email", body["error_in_field"])
	assert.NotEmpty(t, body["error_message"])
}

func TestEnvelopeMessageErrorMapping(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN}

	t.Run("explicit status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := serveEnveloped(t, opts, req, func(c *gin.Context) {
			EnvelopeFromContext(c).Exception = domain.NewMessageError(domain.MsgEntityNotFound, http.StatusNotFound)
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("swallowed sentinel rewrites to 500", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := serveEnveloped(t, opts, req, func(c *gin.Context) {
			EnvelopeFromContext(c).Exception = domain.NewMessageError(domain.MsgInternalError, domain.StatusSwallowed)
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestEnvelopePanicBecomesSanitized500(t *testing.T) {
	tracks := &fakeTracks{}
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN, Tracks: tracks}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		env.Response["leak"] = "partial result"
		panic("boom")
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.NotEmpty(t, body["error_message"])
	_, leaked := body["leak"]
	assert.False(t, leaked, "partial results never reach the caller on a 500")

	require.Len(t, tracks.exceptions, 1)
	record := tracks.exceptions[0]
	assert.Contains(t, record.Args, "boom")
	assert.NotEmpty(t, record.Traceback)
	require.NotNil(t, record.RequestTrackID, "exception links back to its request track")
	assert.Equal(t, tracks.tracks[0].ID, *record.RequestTrackID)
}

func TestEnvelopeUnclassifiedErrorHidesDetail(t *testing.T) {
	tracks := &fakeTracks{}
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN, Tracks: tracks}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		EnvelopeFromContext(c).Exception = errors.New("pq: relation does not exist")
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "relation")

	require.Len(t, tracks.exceptions, 1)
	assert.Contains(t, tracks.exceptions[0].Args, "relation does not exist")
}

func TestEnvelopeAttachesRollingToken(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		env.AddToken = true
		env.Token = "fresh-token"
		env.Response["ok"] = true
	})

	assert.Equal(t, "fresh-token", decodeBody(t, w)["token"])

	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, "token=fresh-token")
	assert.Contains(t, strings.ToLower(cookie), "httponly")
}

func TestEnvelopeSkipsTokenOnFailure(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		env.AddToken = true
		env.Token = "fresh-token"
		env.Exception = domain.NewMessageError(domain.MsgProviderUnavailable, http.StatusServiceUnavailable)
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	_, present := decodeBody(t, w)["token"]
	assert.False(t, present)
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestEnvelopeRawPassthrough(t *testing.T) {
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		env := EnvelopeFromContext(c)
		env.JSONUnsafe = true
		env.RawContentType = "text/csv"
		env.RawBody = []byte("id,name\n1,x\n")
		env.AddToken = true
		env.Token = "never-attached"
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "id,name\n1,x\n", w.Body.String())
}

func TestEnvelopeAuditFailureDoesNotBreakResponse(t *testing.T) {
	tracks := &fakeTracks{trackErr: errors.New("audit db down")}
	opts := EnvelopeOptions{DefaultLanguage: domain.LanguageEN, Tracks: tracks}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := serveEnveloped(t, opts, req, func(c *gin.Context) {
		EnvelopeFromContext(c).Response["ok"] = true
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["ok"])
}

func TestExtractToken(t *testing.T) {
	build := func(configure func(r *http.Request)) *gin.Context {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/test?token=from-query", nil)
		configure(c.Request)
		return c
	}

	t.Run("bearer header wins", func(t *testing.T) {
		c := build(func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer from-header")
			r.AddCookie(&http.Cookie{Name: "token", Value: "from-cookie"})
		})
		assert.Equal(t, "from-header", extractToken(c))
	})

	t.Run("bare header accepted", func(t *testing.T) {
		c := build(func(r *http.Request) {
			r.Header.Set("Authorization", "from-header")
		})
		assert.Equal(t, "from-header", extractToken(c))
	})

	t.Run("cookie beats query", func(t *testing.T) {
		c := build(func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "token", Value: "from-cookie"})
		})
		assert.Equal(t, "from-cookie", extractToken(c))
	})

	t.Run("query is the last resort", func(t *testing.T) {
		c := build(func(r *http.Request) {})
		assert.Equal(t, "from-query", extractToken(c))
	})
}
