package verifier

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/contract"
	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/pkg/errors"
)

// BuildRequest turns an expected request into the concrete request sent to
// the provider. Regex paths and header rules use their examples; body rules
// are replaced by a generated value.
func BuildRequest(r contract.ExpectedRequest) (Request, error) {
	req := Request{
		Method: r.Method,
		Path:   r.LiteralPath(),
		Query:  r.Query,
		Header: contract.HTTPHeader(r.Headers),
	}
	if r.Body == nil {
		return req, nil
	}

	contentType := req.Header.Get("Content-Type")
	value := matcher.Generate(r.Body)
	if s, ok := value.(string); ok && !IsJSON(contentType) {
		req.Body = []byte(s)
		if contentType == "" {
			req.Header.Set("Content-Type", "text/plain")
		}
		return req, nil
	}

	body, err := json.Marshal(value)
	if err != nil {
		return Request{}, errors.Wrap(err, "unable to encode request body")
	}
	req.Body = body
	if contentType == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// MediaType is the lowercased media type of a Content-Type value, without
// parameters.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mediaType)
}

// IsJSON reports whether contentType names a JSON media type.
func IsJSON(contentType string) bool {
	mediaType := MediaType(contentType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// headerValues looks name up case-insensitively, tolerating non-canonical
// keys in h.
func headerValues(h http.Header, name string) ([]string, bool) {
	if values, ok := h[http.CanonicalHeaderKey(name)]; ok {
		return values, true
	}
	for key, values := range h {
		if strings.EqualFold(key, name) {
			return values, true
		}
	}
	return nil, false
}
