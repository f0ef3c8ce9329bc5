package httputil

import (
	"context"
	"net/http"
)

type viewerKey struct{}

// WithViewer records the authenticated caller on the request
func WithViewer(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), viewerKey{}, userID))
}

// ViewerID returns the authenticated caller, or "" for anonymous readers
func ViewerID(r *http.Request) string {
	return ViewerFromContext(r.Context())
}

// ViewerFromContext is ViewerID for code that only holds a context
func ViewerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(viewerKey{}).(string)
	return id
}
