package models

// RoleType defines the role carried in an access token
type RoleType string

const (
	RoleAdmin   RoleType = "admin"
	RoleTeacher RoleType = "profesor"
	RoleStudent RoleType = "alumno"
)

// Sex values accepted on the completion form
const (
	SexMale   = "M"
	SexFemale = "F"
)
