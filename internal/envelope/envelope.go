// Package envelope carries the per-request scratch store threaded through
// middleware and handlers. One envelope exists per request; it is created by
// the outermost middleware and destroyed at response emission. No ambient
// globals: everything about the "current request" lives here.
package envelope

import (
	"net/http"
	"time"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/infra/security"
)

// Envelope is the per-request bag of state shared between middleware stages.
type Envelope struct {
	Request    *http.Request
	Response   map[string]any
	StatusCode int

	IsAPI      bool
	JSONUnsafe bool

	// Raw response fields are set when a handler opts out of JSON
	// serialization entirely; the middleware emits them verbatim.
	RawBody        []byte
	RawContentType string

	AddToken     bool
	Token        string
	DecodedToken *security.TokenPayload

	AuthenticationObject *domain.AuthMethod
	UserUserGroup        *domain.UserUserGroup
	User                 *domain.User
	UserGroup            *domain.UserGroup

	Language domain.Language

	ViewName        string
	OnErrorViewName string
	ViewStartTime   time.Time
	ViewEndTime     time.Time

	RequestTrack *domain.RequestTrack
	IsTracked    bool

	Exception        error
	CanTouchResponse bool
}

// New builds a fresh envelope for the inbound request.
func New(r *http.Request, defaultLanguage domain.Language) *Envelope {
	return &Envelope{
		Request:          r,
		Response:         make(map[string]any),
		StatusCode:       http.StatusOK,
		IsAPI:            true,
		Language:         defaultLanguage,
		CanTouchResponse: true,
	}
}

// Authenticated reports whether the auth middleware bound a live session.
func (e *Envelope) Authenticated() bool {
	return e.AuthenticationObject != nil
}

// BindSession populates the authentication fields after a successful token
// validation or login.
func (e *Envelope) BindSession(method *domain.AuthMethod, membership *domain.UserUserGroup, user *domain.User, group *domain.UserGroup) {
	e.AuthenticationObject = method
	e.UserUserGroup = membership
	e.User = user
	e.UserGroup = group
	e.AddToken = true
	if user != nil && user.Language != "" {
		e.Language = user.Language
	}
}

// ResolveLanguage applies the resolution order: explicit ?lang= parameter,
// authenticated user's language, configured default.
func (e *Envelope) ResolveLanguage(defaultLanguage domain.Language) {
	fallback := defaultLanguage
	if e.User != nil && e.User.Language != "" {
		fallback = e.User.Language
	}
	raw := ""
	if e.Request != nil {
		raw = e.Request.URL.Query().Get("lang")
	}
	e.Language = domain.ParseLanguage(raw, fallback)
}

// AddWarning attaches a caller-visible warning message to the response and the
// request track.
func (e *Envelope) AddWarning(msg domain.Translatable) {
	e.Response["warning_message"] = msg.In(e.Language)
	e.trackMessage(domain.TrackMessageWarning, msg.In(e.Language))
}

// AddInfo attaches an informational message to the request track only.
func (e *Envelope) AddInfo(msg domain.Translatable) {
	e.trackMessage(domain.TrackMessageInfo, msg.In(e.Language))
}

func (e *Envelope) trackMessage(level domain.TrackMessageLevel, body string) {
	if e.RequestTrack == nil {
		return
	}
	e.RequestTrack.Messages = append(e.RequestTrack.Messages, domain.TrackMessage{
		Level: level,
		Body:  body,
	})
}
