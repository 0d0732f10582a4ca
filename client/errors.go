package client

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/kvstate/fetch"
)

// ResponseError is returned for responses outside the 2xx range. It unwraps
// to a *fetch.HTTPError so callers can treat both layers alike.
type ResponseError struct {
	Response *Response
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.Response.Status)
}

func (e *ResponseError) Unwrap() error {
	return &fetch.HTTPError{Status: e.Response.Status, URL: e.Response.URL, Body: e.Response.Body}
}

// StatusOf returns the HTTP status carried by err, or 0 when err did not come
// from a response.
func StatusOf(err error) int {
	var re *ResponseError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.Status
	}
	return fetch.StatusOf(err)
}
