package models

type Gender string

const (
	GenderUnknown        Gender = ""
	GenderMale           Gender = "male"
	GenderFemale         Gender = "female"
	GenderOther          Gender = "other"
	GenderPreferNotToSay Gender = "prefer_not_to_say"
)

type UserType string

const (
	UserTypeStudent UserType = "student"
	UserTypeFaculty UserType = "faculty"
)

// Profile is the subset of a user profile the compatibility scorer reads.
// CurrentYear is 0 when unknown.
type Profile struct {
	ID          string   `json:"id"`
	Gender      Gender   `json:"gender,omitempty"`
	UserType    UserType `json:"user_type,omitempty"`
	CurrentYear int      `json:"current_year,omitempty"`
}

type Preferences struct {
	AcceptOppositeGender bool `json:"accept_opposite_gender"`
	AcceptSeniors        bool `json:"accept_seniors"`
}
