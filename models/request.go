package models

import (
	"net/url"
	"strings"
	"unicode"
)

// ResolveRequest is the payload for POST /api/v1/resolve.
type ResolveRequest struct {
	// URL is the ad-gate or shortener link to resolve. Required, absolute,
	// with an explicit http or https scheme.
	URL string `json:"url" binding:"required,url"`
}

// Normalize trims the URL and checks that it is an absolute http(s) URL
// without control characters. It rewrites r.URL in place.
func (r *ResolveRequest) Normalize() error {
	normalized, err := NormalizeURL(r.URL)
	if err != nil {
		return err
	}
	r.URL = normalized
	return nil
}

// NormalizeURL is the validation shared by single and batch requests.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewResolveError(ErrCodeValidation, "url is required", nil)
	}
	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return "", NewResolveError(ErrCodeValidation, "url contains control characters", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", NewResolveError(ErrCodeValidation, "url is not parseable", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", NewResolveError(ErrCodeValidation, "url must use http or https", nil)
	}
	if u.Host == "" {
		return "", NewResolveError(ErrCodeValidation, "url must include a host", nil)
	}
	return u.String(), nil
}
