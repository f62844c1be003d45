//go:build !release

package resolver

const buildProfile = ProfileDevelopment
