package utils

import (
	"io"
	"strings"
)

const maxSnippet = 512

// CloseBody drains and closes a response body. It returns the first bytes of the body so
// non-2xx responses can carry the indexer's error text.
func CloseBody(rc io.ReadCloser) (string, error) {
	if rc == nil {
		return "", nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(rc, maxSnippet))
	_, _ = io.Copy(io.Discard, rc)
	return strings.TrimSpace(string(snippet)), rc.Close()
}
