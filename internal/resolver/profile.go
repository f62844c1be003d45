package resolver

import (
	"fmt"
	"strings"
)

// Profile selects how the resolver reacts to a missing bundled runtime.
type Profile int

const (
	// ProfileDevelopment falls back to the system interpreter.
	ProfileDevelopment Profile = iota
	// ProfileRelease requires the bundled interpreter.
	ProfileRelease
)

func (p Profile) String() string {
	switch p {
	case ProfileRelease:
		return "release"
	default:
		return "development"
	}
}

// BuildProfile is the profile compiled into this binary.
func BuildProfile() Profile {
	return buildProfile
}

// ParseProfile maps a configuration value onto a Profile. The empty string
// yields the build profile.
func ParseProfile(value string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return buildProfile, nil
	case "development", "dev", "debug":
		return ProfileDevelopment, nil
	case "release":
		return ProfileRelease, nil
	default:
		return buildProfile, fmt.Errorf("unknown profile %q", value)
	}
}
