package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/repository"
)

// ConfirmType decides who approves join requests.
type ConfirmType string

const (
	// ConfirmCreator forwards requests to the session creator, who alone may
	// confirm or reject them.
	ConfirmCreator ConfirmType = "creator"
	// ConfirmMembers forwards requests to every member; any member may decide.
	ConfirmMembers ConfirmType = "members"
	// ConfirmAuto confirms requests as soon as they are recorded.
	ConfirmAuto ConfirmType = "auto"
)

func ParseConfirmType(raw string) (ConfirmType, error) {
	switch t := ConfirmType(strings.ToLower(strings.TrimSpace(raw))); t {
	case ConfirmCreator, ConfirmMembers, ConfirmAuto:
		return t, nil
	case "":
		return ConfirmAuto, nil
	default:
		return "", fmt.Errorf("invalid confirm type %q (expected creator, members or auto)", raw)
	}
}

// ICEServerFunc returns the ICE servers announced to the given connection in
// user.init.
type ICEServerFunc func(connectionID string) []webrtc.ICEServer

type Option func(*options)

type options struct {
	confirm    ConfirmType
	ids        repository.IDStrategy
	logger     *slog.Logger
	tracer     trace.Tracer
	iceServers ICEServerFunc
}

func WithConfirmType(t ConfirmType) Option {
	return func(o *options) { o.confirm = t }
}

// WithIDStrategy sets the id source of all three registries.
func WithIDStrategy(ids repository.IDStrategy) Option {
	return func(o *options) { o.ids = ids }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func WithICEServers(fn ICEServerFunc) Option {
	return func(o *options) { o.iceServers = fn }
}
