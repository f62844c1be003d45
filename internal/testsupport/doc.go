// Package testsupport holds helpers shared by package tests: temp-dir backed
// configs, a history store, and fake bundled runtimes.
package testsupport
