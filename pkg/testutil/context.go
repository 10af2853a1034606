package testutil

import (
	"net/http"

	"efile/pkg/platform/middleware/request"
)

// WithBearer sets the Authorization header the operator endpoints expect.
func WithBearer(req *http.Request, secret string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+secret)
	return req
}

// WithRequestID sets the correlation header so responses can be matched.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	req.Header.Set(request.HeaderRequestID, requestID)
	return req
}
