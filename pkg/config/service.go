// SPDX-License-Identifier: MIT

package config

import "fmt"

// Service identifies one of the two personas the binary can assume. The
// profile fixes the display name, the environment prefix, and the fixed
// redirect targets; everything else about a persona lives in its upstream
// adapter.
type Service struct {
	// Name is the display name, e.g. "Takagi".
	Name string

	// Slug is the lowercase identifier used as the --service flag value.
	Slug string

	// EnvPrefix is the environment variable prefix, without the trailing
	// underscore.
	EnvPrefix string

	// RepoURL is the project repository, the ROOT_REDIRECT=repo target.
	RepoURL string

	// SettingsURL is the upstream account-settings page, the
	// ROOT_REDIRECT=settings target.
	SettingsURL string
}

// Takagi fronts GitHub.
var Takagi = Service{
	Name:        "Takagi",
	Slug:        "takagi",
	EnvPrefix:   "TAKAGI",
	RepoURL:     "https://github.com/celsiusnarhwal/takagi",
	SettingsURL: "https://github.com/settings",
}

// Snowflake fronts Discord.
var Snowflake = Service{
	Name:        "Snowflake",
	Slug:        "snowflake",
	EnvPrefix:   "SNOWFLAKE",
	RepoURL:     "https://github.com/celsiusnarhwal/snowflake",
	SettingsURL: "https://discord.com/settings",
}

// ServiceBySlug resolves a --service flag value to its profile.
func ServiceBySlug(slug string) (Service, error) {
	switch slug {
	case Takagi.Slug:
		return Takagi, nil
	case Snowflake.Slug:
		return Snowflake, nil
	default:
		return Service{}, fmt.Errorf("unknown service %q (expected %q or %q)", slug, Takagi.Slug, Snowflake.Slug)
	}
}
