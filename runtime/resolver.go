package runtime

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/wippyai/isolate-runtime/errors"
)

// Resolver maps a specifier and the URL of the importing module to a
// canonical module URL.
type Resolver interface {
	Resolve(specifier, referrer string) (string, error)
}

// URLResolver resolves absolute URLs as-is and relative specifiers
// ("./", "../", "/") against the referrer. Bare specifiers are rejected.
type URLResolver struct{}

// Resolve implements Resolver.
func (URLResolver) Resolve(specifier, referrer string) (string, error) {
	if specifier == "" {
		return "", errors.Resolve(specifier, referrer, errors.InvalidInput(errors.PhaseResolve, "empty specifier"))
	}

	if u, err := url.Parse(specifier); err == nil && u.IsAbs() && len(u.Scheme) > 1 {
		return u.String(), nil
	}

	if !isRelative(specifier) {
		return "", errors.Resolve(specifier, referrer,
			errors.InvalidInput(errors.PhaseResolve, "relative specifiers must start with \"./\", \"../\" or \"/\""))
	}

	base, err := url.Parse(referrer)
	if err != nil {
		return "", errors.Resolve(specifier, referrer, err)
	}
	if !base.IsAbs() {
		return "", errors.Resolve(specifier, referrer,
			errors.InvalidInput(errors.PhaseResolve, "referrer is not an absolute URL"))
	}

	ref, err := url.Parse(specifier)
	if err != nil {
		return "", errors.Resolve(specifier, referrer, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func isRelative(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/")
}

// DirURL converts a directory path or URL into a base URL ending in "/".
func DirURL(root string) (string, error) {
	if u, err := url.Parse(root); err == nil && u.IsAbs() && len(u.Scheme) > 1 {
		s := u.String()
		if !strings.HasSuffix(s, "/") {
			s += "/"
		}
		return s, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Resolve(root, "", err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return (&url.URL{Scheme: "file", Path: p}).String(), nil
}
