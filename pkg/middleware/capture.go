package middleware

import (
	"mime"
	"net/http"
	"strings"
)

// captureWriter buffers optimizable responses and forwards everything else.
// The decision is made once, when the downstream handler commits its status.
type captureWriter struct {
	w      http.ResponseWriter
	header http.Header
	buf    *hybridBuffer
	method string

	status      int
	decided     bool
	passthrough bool
	writeErr    error
}

func newCaptureWriter(w http.ResponseWriter, method string, threshold int64) *captureWriter {
	return &captureWriter{
		w:      w,
		header: http.Header{},
		buf:    newHybridBuffer(threshold),
		method: method,
		status: http.StatusOK,
	}
}

func (c *captureWriter) Header() http.Header {
	if c.passthrough {
		return c.w.Header()
	}
	return c.header
}

func (c *captureWriter) WriteHeader(status int) {
	if c.decided {
		return
	}
	// Informational responses are forwarded without committing.
	if status >= 100 && status < 200 && status != http.StatusSwitchingProtocols {
		copyHeader(c.w.Header(), c.header)
		c.w.WriteHeader(status)
		return
	}
	c.status = status
	c.decide()
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if !c.decided {
		c.decide()
	}
	if c.passthrough {
		return c.w.Write(p)
	}
	n, err := c.buf.Write(p)
	if err != nil && c.writeErr == nil {
		c.writeErr = err
	}
	return n, err
}

// Flush forwards flushes of passthrough responses so streaming handlers keep
// working behind the middleware.
func (c *captureWriter) Flush() {
	if !c.decided {
		c.decide()
	}
	if !c.passthrough {
		return
	}
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (c *captureWriter) Unwrap() http.ResponseWriter {
	return c.w
}

func (c *captureWriter) decide() {
	c.decided = true
	if c.optimizable() {
		return
	}
	c.passthrough = true
	copyHeader(c.w.Header(), c.header)
	c.w.WriteHeader(c.status)
}

func (c *captureWriter) optimizable() bool {
	if c.method == http.MethodHead {
		return false
	}
	if c.status < 200 || c.status >= 300 || c.status == http.StatusNoContent {
		return false
	}
	if c.header.Get("Content-Encoding") != "" {
		return false
	}
	return isJSONContentType(c.header.Get("Content-Type"))
}

func isJSONContentType(value string) bool {
	if value == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
}
