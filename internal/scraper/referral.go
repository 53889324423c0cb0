package scraper

import "net/url"

// referralParams maps store slugs to the affiliate query parameter each
// storefront expects.
var referralParams = map[string]string{
	"steam":         "partner",
	"gog":           "affiliate_id",
	"epic-games":    "epic_creator_id",
	"humble-bundle": "partner",
	"fanatical":     "ref",
}

// Referral appends configured affiliate tags to store URLs.
type Referral struct {
	tags map[string]string
}

// NewReferral creates a referral builder from a slug-to-tag map
func NewReferral(tags map[string]string) *Referral {
	if tags == nil {
		tags = map[string]string{}
	}
	return &Referral{tags: tags}
}

// BuildURL appends the store's affiliate parameter to a URL. It is a
// no-op when no tag is configured for the store slug, and idempotent:
// applying it twice sets the parameter rather than duplicating it.
func (r *Referral) BuildURL(baseURL, storeSlug string) string {
	param, ok := referralParams[storeSlug]
	if !ok {
		return baseURL
	}

	tag, ok := r.tags[storeSlug]
	if !ok || tag == "" {
		return baseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	q := u.Query()
	q.Set(param, tag)
	u.RawQuery = q.Encode()
	return u.String()
}
