package domain

import "time"

// RequestTrack is the audit row persisted for each tracked inbound request.
type RequestTrack struct {
	ID              int64
	URL             string
	Method          string
	Status          int
	StartTime       time.Time
	EndTime         time.Time
	RequestHeaders  string
	RequestBody     string
	ResponseBody    string
	UserUserGroupID *int64
	AddToken        bool
	Messages        []TrackMessage
}

// Duration returns how long the handler ran.
func (t RequestTrack) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// TrackMessageLevel tags emitted messages attached to a request track.
type TrackMessageLevel string

const (
	TrackMessageInfo    TrackMessageLevel = "info"
	TrackMessageWarning TrackMessageLevel = "warning"
)

// TrackMessage is a child row of RequestTrack for warning/info messages emitted
// while handling the request.
type TrackMessage struct {
	ID             int64
	RequestTrackID int64
	Level          TrackMessageLevel
	Body           string
}

// ExceptionRecord is persisted on every failure, even when the caller receives
// only a sanitized 500.
type ExceptionRecord struct {
	ID             int64
	RequestTrackID *int64
	ClassTitle     string
	Args           string
	Traceback      string
	Checked        bool
	DateCreated    time.Time
}
