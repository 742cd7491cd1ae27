package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/identity"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/personalization"
	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"
)

const (
	identityCacheControl        = "public, max-age=3600"
	personalizationCacheControl = "public, max-age=300"
)

// IdentityResolver resolves tracking ids to lead profiles.
type IdentityResolver interface {
	Resolve(ctx context.Context, id string) (json.RawMessage, error)
}

// PersonalizationReader reads visitor personalization.
type PersonalizationReader interface {
	Read(ctx context.Context, visitorID string) (*personalization.Result, error)
}

// LookupHandler serves identity and personalization reads.
type LookupHandler struct {
	identities      IdentityResolver
	personalization PersonalizationReader
	logger          *zap.Logger
}

// NewLookupHandler creates a new lookup handler.
func NewLookupHandler(identities IdentityResolver, reader PersonalizationReader, logger *zap.Logger) *LookupHandler {
	return &LookupHandler{
		identities:      identities,
		personalization: reader,
		logger:          logger,
	}
}

// Identify returns the stored profile for a tracking id.
func (h *LookupHandler) Identify(ctx context.Context, req *IdentifyRequest) (*DocumentResponse, error) {
	if req.ID == "" {
		return nil, huma.Error400BadRequest("Missing identity ID")
	}

	profile, err := h.identities.Resolve(ctx, req.ID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, huma.Error404NotFound("Identity not found")
		}

		h.logger.Error("identity lookup failed", zap.String("identityId", req.ID), zap.Error(err))

		return nil, huma.Error500InternalServerError("Internal Server Error")
	}

	return newDocumentResponse(profile, identityCacheControl), nil
}

// Personalize returns the personalization document for a visitor.
func (h *LookupHandler) Personalize(ctx context.Context, req *PersonalizeRequest) (*DocumentResponse, error) {
	if req.VisitorID == "" {
		return nil, huma.Error400BadRequest("Missing visitor ID")
	}

	result, err := h.personalization.Read(ctx, req.VisitorID)
	if err != nil {
		h.logger.Error("personalization lookup failed", zap.String("visitorId", req.VisitorID), zap.Error(err))

		return nil, huma.Error500InternalServerError("Internal Server Error")
	}

	if !result.Personalized {
		return newDocumentResponse(result.Body, ""), nil
	}

	return newDocumentResponse(result.Body, personalizationCacheControl), nil
}
