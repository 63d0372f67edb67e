package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxPathParamLen bounds identifiers taken from the URL path. Device IDs and
// queue item IDs are well under this in practice.
const maxPathParamLen = 256

// PathParam extracts and decodes a chi URL parameter and validates it as an
// identifier: non-empty, no whitespace, bounded length.
func PathParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", name)
	}
	if len(decoded) > maxPathParamLen {
		return "", fmt.Errorf("%s exceeds %d characters", name, maxPathParamLen)
	}

	return decoded, nil
}
