package captcha

import (
	"fmt"
	"net/url"
)

// ResolveImageRef turns an image reference from the service into a URL the
// renderer can fetch. Absolute references are returned unchanged; relative
// ones are resolved against base.
func ResolveImageRef(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing image ref %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
