package server

import "net/http"

// CapturingResponseWriter remembers status code and size of the response
// so that we can log them
type CapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Size       int64
}

func (w *CapturingResponseWriter) WriteHeader(statusCode int) {
	w.StatusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *CapturingResponseWriter) Write(d []byte) (int, error) {
	if w.StatusCode == 0 {
		w.StatusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(d)
	w.Size += int64(n)
	return n, err
}

// Code returns status code sent to the client
func (w *CapturingResponseWriter) Code() int {
	if w.StatusCode == 0 {
		return http.StatusOK
	}
	return w.StatusCode
}
