package handlers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/tracking"
	"go.uber.org/zap"
)

// DefaultClickTimeout bounds the click delivery made before a redirect.
const DefaultClickTimeout = 3 * time.Second

// ClickRecorder delivers click events synchronously.
type ClickRecorder interface {
	Deliver(ctx context.Context, events []tracking.EnrichedEvent) error
}

// RedirectHandler records short-link clicks and redirects to the destination.
type RedirectHandler struct {
	clicks  ClickRecorder
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRedirectHandler creates a new redirect handler. A non-positive timeout
// selects DefaultClickTimeout.
func NewRedirectHandler(clicks ClickRecorder, timeout time.Duration, logger *zap.Logger) *RedirectHandler {
	if timeout <= 0 {
		timeout = DefaultClickTimeout
	}

	return &RedirectHandler{
		clicks:  clicks,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Go records a click for the identity and redirects to the destination with
// the identity attached. Links without an identity redirect untouched.
func (h *RedirectHandler) Go(ctx context.Context, req *GoRequest) (*RedirectResponse, error) {
	destination := req.To
	if destination == "" {
		destination = "/"
	}

	if req.ID == "" {
		return redirectTo(destination), nil
	}

	target, err := withIdentity(req.origin, destination, req.ID)
	if err != nil {
		h.logger.Warn("invalid redirect destination", zap.String("destination", destination), zap.Error(err))

		return redirectTo("/"), nil
	}

	click := tracking.NewClickEvent(req.ID, destination, tracking.RequestMetaFromContext(ctx), h.now())

	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	// A lost click never blocks the visitor.
	if err := h.clicks.Deliver(deliverCtx, []tracking.EnrichedEvent{click}); err != nil {
		h.logger.Warn("click not recorded", zap.String("identityId", req.ID), zap.Error(err))
	}

	return redirectTo(target), nil
}

// withIdentity resolves destination against origin and sets the i parameter.
func withIdentity(origin, destination, id string) (string, error) {
	base, err := url.Parse(origin + "/")
	if err != nil {
		return "", err
	}

	ref, err := url.Parse(destination)
	if err != nil {
		return "", err
	}

	target := base.ResolveReference(ref)
	if target.Scheme != "" && target.Scheme != "http" && target.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", target.Scheme)
	}

	query := target.Query()
	query.Set("i", id)
	target.RawQuery = query.Encode()

	return target.String(), nil
}
