//go:build release

package resolver

const buildProfile = ProfileRelease
