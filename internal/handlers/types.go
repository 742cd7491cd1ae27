package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// TrackRequest is a raw event batch. The body is decoded by the handler so
// that a malformed batch is a 400 and not a schema violation.
type TrackRequest struct {
	RawBody []byte `contentType:"application/json"`
}

// TrackResponse acknowledges an accepted batch.
type TrackResponse struct {
	Body struct {
		Success        bool `doc:"Always true"              example:"true" json:"success"`
		EventsReceived int  `doc:"Number of events accepted" example:"3"    json:"eventsReceived"`
	}
}

// IdentifyRequest looks a lead up by tracking id.
type IdentifyRequest struct {
	ID string `doc:"Short tracking id" example:"abc123" query:"i"`
}

// PersonalizeRequest looks personalization up by visitor id.
type PersonalizeRequest struct {
	VisitorID string `doc:"Visitor id" example:"v_8f2c" query:"vid"`
}

// DocumentResponse is a stored JSON document served as is.
type DocumentResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

func newDocumentResponse(body []byte, cacheControl string) *DocumentResponse {
	return &DocumentResponse{
		ContentType:  "application/json",
		CacheControl: cacheControl,
		Body:         body,
	}
}

// GoRequest is a tracked short link.
type GoRequest struct {
	ID string `doc:"Short tracking id"      example:"abc123"   query:"i"`
	To string `default:"/" doc:"Destination" example:"/pricing" query:"to"`

	origin string
}

// Resolve records the origin the destination is resolved against.
func (r *GoRequest) Resolve(ctx huma.Context) []error {
	scheme := "http"
	if ctx.TLS() != nil {
		scheme = "https"
	}

	if proto := ctx.Header("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}

	r.origin = scheme + "://" + ctx.Host()

	return nil
}

// RedirectResponse sends the browser on.
type RedirectResponse struct {
	Status  int
	Headers struct {
		Location string `doc:"Redirect target" header:"Location"`
	}
}

func redirectTo(location string) *RedirectResponse {
	resp := &RedirectResponse{Status: http.StatusFound}
	resp.Headers.Location = location

	return resp
}
