package models

// StudentAccountFilter narrows an administrator listing. Page is 1-based.
type StudentAccountFilter struct {
	Status *RegistrationStatus
	Search string
	Page   int
	Size   int
}

// FullName is a (given, family) pair compared exactly after trimming
type FullName struct {
	GivenName  string
	FamilyName string
}

func (n FullName) String() string {
	return n.GivenName + " " + n.FamilyName
}
