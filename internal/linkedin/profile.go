package linkedin

import (
	"encoding/json"
	"strings"

	"personalization-sync/internal/common/errors"
)

// Profile is the canonical member profile
type Profile struct {
	Name      string  `json:"name"`
	Headline  *string `json:"headline"`
	PhotoURL  *string `json:"photo_url"`
	ProfileID string  `json:"profile_id"`
	// ProfileURL is never returned by the API and stays nil; the trainer
	// supplies it separately.
	ProfileURL *string `json:"profile_url"`
}

type profileShape int

const (
	shapeOIDC profileShape = iota + 1
	shapeLegacy
)

// rawProfile holds the union of both response shapes. The userinfo endpoint
// returns the OIDC fields; the retired v2/me endpoint returned the legacy ones.
type rawProfile struct {
	// OIDC userinfo
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`

	// Legacy v2/me
	ID                 string          `json:"id"`
	LocalizedFirstName string          `json:"localizedFirstName"`
	LocalizedLastName  string          `json:"localizedLastName"`
	Headline           json.RawMessage `json:"headline"`
	LocalizedHeadline  string          `json:"localizedHeadline"`
	ProfilePicture     *struct {
		DisplayImage *struct {
			Elements []struct {
				Identifiers []struct {
					Identifier string `json:"identifier"`
				} `json:"identifiers"`
			} `json:"elements"`
		} `json:"displayImage~"`
	} `json:"profilePicture"`
}

func (r *rawProfile) shape() profileShape {
	switch {
	case r.Sub != "":
		return shapeOIDC
	case r.ID != "":
		return shapeLegacy
	}
	return 0
}

// NormalizeProfile decodes a profile response of either shape
func NormalizeProfile(data []byte) (*Profile, error) {
	var raw rawProfile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.ProviderHTTPError(200, "failed to decode LinkedIn profile").WithContext("cause", err.Error())
	}

	profile := &Profile{}
	switch raw.shape() {
	case shapeOIDC:
		profile.ProfileID = raw.Sub
		profile.Name = joinName(raw.Name, raw.GivenName, raw.FamilyName)
		profile.PhotoURL = nonEmpty(raw.Picture)

	case shapeLegacy:
		profile.ProfileID = raw.ID
		profile.Name = joinName(raw.Name, firstOf(raw.LocalizedFirstName, raw.GivenName), firstOf(raw.LocalizedLastName, raw.FamilyName))
		profile.Headline = legacyHeadline(raw.Headline, raw.LocalizedHeadline)
		profile.PhotoURL = nonEmpty(raw.Picture)
		if profile.PhotoURL == nil {
			profile.PhotoURL = largestPicture(&raw)
		}

	default:
		return nil, errors.ValidationError("profile id not found in LinkedIn profile")
	}

	if profile.Name == "" {
		return nil, errors.ValidationError("name not found in LinkedIn profile")
	}
	return profile, nil
}

func joinName(full, first, last string) string {
	if name := strings.TrimSpace(full); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// legacyHeadline accepts a plain string headline; localized objects fall back
// to localizedHeadline.
func legacyHeadline(headline json.RawMessage, localized string) *string {
	var s string
	if len(headline) > 0 && json.Unmarshal(headline, &s) == nil {
		if h := nonEmpty(s); h != nil {
			return h
		}
	}
	return nonEmpty(localized)
}

// largestPicture picks the last display image variant, which is the largest
func largestPicture(raw *rawProfile) *string {
	if raw.ProfilePicture == nil || raw.ProfilePicture.DisplayImage == nil {
		return nil
	}
	elements := raw.ProfilePicture.DisplayImage.Elements
	if len(elements) == 0 {
		return nil
	}
	identifiers := elements[len(elements)-1].Identifiers
	if len(identifiers) == 0 {
		return nil
	}
	return nonEmpty(identifiers[0].Identifier)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
