package admit

import "net/http"

// MaxBodySize rejects requests whose Content-Length exceeds maxBytes with 413
// and wraps every body in http.MaxBytesReader so chunked or mislabelled bodies
// are cut off during decode (JSON reports those as 413 too).
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				if HasState(r.Context()) {
					SetError(r, ErrPayloadTooLarge.With("Request body too large"))
				} else {
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				}
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
