//go:build integration

package service

// NewMemFiles exposes the in-memory file store to the external
// service_test package used by the integration tests.
var NewMemFiles = newMemFiles
