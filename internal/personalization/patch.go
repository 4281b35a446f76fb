package personalization

import "time"

// Nullable is one column of a Patch. The zero value leaves the column alone,
// Set writes a value and Null clears it.
type Nullable[T any] struct {
	set   bool
	value *T
}

// Set returns a Nullable that writes v
func Set[T any](v T) Nullable[T] {
	return Nullable[T]{set: true, value: &v}
}

// Null returns a Nullable that clears the column
func Null[T any]() Nullable[T] {
	return Nullable[T]{set: true}
}

// IsSet reports whether the patch touches the column
func (n Nullable[T]) IsSet() bool {
	return n.set
}

// Value returns the value to write, nil meaning NULL
func (n Nullable[T]) Value() *T {
	return n.value
}

func (n Nullable[T]) apply(dst **T) {
	if !n.set {
		return
	}
	if n.value == nil {
		*dst = nil
		return
	}
	v := *n.value
	*dst = &v
}

// Patch is a partial update of a Record. Unset fields are preserved.
type Patch struct {
	CoachName          *string
	OAuthState         Nullable[string]
	AccessToken        Nullable[string]
	RefreshToken       Nullable[string]
	TokenExpiresAt     Nullable[time.Time]
	ExtractionStatus   *Status
	ExtractionError    Nullable[string]
	LinkedInProfileID  Nullable[string]
	ProfileURL         Nullable[string]
	TrainerInfo        map[string]interface{}
	DataExtractedAt    Nullable[time.Time]
	AutoRefreshEnabled *bool
	LastRefreshedAt    Nullable[time.Time]
}

// StatusPtr is a convenience for building patches
func StatusPtr(s Status) *Status {
	return &s
}

// FailedPatch records a failure message with the given status
func FailedPatch(status Status, message string) Patch {
	return Patch{
		ExtractionStatus: StatusPtr(status),
		ExtractionError:  Set(message),
	}
}

// MergeTrainerInfo returns a copy of existing with updates laid over it.
// Keys that updates does not mention are kept.
func MergeTrainerInfo(existing, updates map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}
