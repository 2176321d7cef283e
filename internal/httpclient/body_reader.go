package httpclient

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// BodySource produces a fresh reader for every probe so requests can be
// replayed on redirects.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
	ContentType() string
}

// NewFormBody encodes fields as application/x-www-form-urlencoded. An empty
// map yields an empty body.
func NewFormBody(fields map[string]string) BodySource {
	if len(fields) == 0 {
		return emptyBodySource{}
	}
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return formBodySource{encoded: values.Encode()}
}

type formBodySource struct {
	encoded string
}

func (f formBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.encoded)), nil
}

func (f formBodySource) ContentLength() (int64, bool) {
	return int64(len(f.encoded)), true
}

func (formBodySource) ContentType() string {
	return "application/x-www-form-urlencoded"
}

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return http.NoBody, nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}

func (emptyBodySource) ContentType() string {
	return ""
}
