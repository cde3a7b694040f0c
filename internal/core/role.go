package core

import (
	"fmt"
	"strings"
)

// Role is the kind of account an import creates.
type Role string

const (
	RoleStartup  Role = "startup"
	RoleInvestor Role = "investor"
	RoleMentor   Role = "mentor"
)

// Roles returns every supported role.
func Roles() []Role {
	return []Role{RoleStartup, RoleInvestor, RoleMentor}
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStartup:
		return RoleStartup, nil
	case RoleInvestor:
		return RoleInvestor, nil
	case RoleMentor:
		return RoleMentor, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// ProfileCollection is the name of the collection or table holding this
// role's profile records.
func (r Role) ProfileCollection() string {
	switch r {
	case RoleStartup:
		return "startups"
	case RoleInvestor:
		return "investors"
	case RoleMentor:
		return "mentors"
	}
	return ""
}

// Profile is a role-specific payload. The set of implementations is closed.
type Profile interface {
	ProfileRole() Role
	isProfile()
}

// StartupProfile is created for RoleStartup rows.
type StartupProfile struct {
	StartupName  string `json:"startupName" bson:"startupName"`
	Description  string `json:"description" bson:"description"`
	Organization string `json:"organization,omitempty" bson:"organization,omitempty"`
}

// InvestorProfile is created for RoleInvestor rows.
type InvestorProfile struct {
	Name     string `json:"name" bson:"name"`
	FirmName string `json:"firmName" bson:"firmName"`
}

// MentorProfile is created for RoleMentor rows.
type MentorProfile struct {
	Name         string `json:"name" bson:"name"`
	Title        string `json:"title" bson:"title"`
	Organization string `json:"organization,omitempty" bson:"organization,omitempty"`
}

func (StartupProfile) ProfileRole() Role  { return RoleStartup }
func (InvestorProfile) ProfileRole() Role { return RoleInvestor }
func (MentorProfile) ProfileRole() Role   { return RoleMentor }

func (StartupProfile) isProfile()  {}
func (InvestorProfile) isProfile() {}
func (MentorProfile) isProfile()   {}

// Placeholder values for profile fields the import file does not carry.
const (
	importedStartupDescription = "Imported Startup"
	importedFirmName           = "Imported Firm"
	importedMentorTitle        = "Imported Mentor"
)

// NewProfile builds the role payload for a normalized row. An organization
// column, when present, replaces the placeholder firm name for investors.
func NewProfile(role Role, row NormalizedRow) Profile {
	switch role {
	case RoleInvestor:
		firm := row.Organization
		if firm == "" {
			firm = importedFirmName
		}
		return InvestorProfile{Name: row.Name, FirmName: firm}
	case RoleMentor:
		return MentorProfile{Name: row.Name, Title: importedMentorTitle, Organization: row.Organization}
	default:
		return StartupProfile{StartupName: row.Name, Description: importedStartupDescription, Organization: row.Organization}
	}
}
