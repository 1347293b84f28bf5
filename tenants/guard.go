package tenants

import "github.com/jrsteele09/learnbox-auth/users"

// Outcome is the result of checking a selection against a profile.
type Outcome string

const (
	OK       Outcome = "OK"
	Mismatch Outcome = "MISMATCH"
	Missing  Outcome = "MISSING"
)

// Validate decides whether profile may hold a session scoped to selection.
// It is a pure function of its arguments:
//   - MISSING when the profile has a college-scoped role and no college was selected
//   - MISMATCH when a college was selected that is not the profile's college
//     (including a selection that is not a number, or a profile with no college)
//   - OK otherwise, which covers SUPER_ADMIN with no selection
func Validate(profile *users.Profile, selection Selection) Outcome {
	if profile == nil {
		return Missing
	}
	if selection.IsNone() {
		if profile.RequiresCollege() {
			return Missing
		}
		return OK
	}
	id, ok := selection.CollegeID()
	if !ok || profile.CollegeID == nil || *profile.CollegeID != id {
		return Mismatch
	}
	return OK
}
