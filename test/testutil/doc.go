// Package testutil provides shared test utilities and fixtures for integration tests.
//
// This package contains common setup code, test data, and helper functions
// that are used across multiple integration tests.
//
// Examples of utilities that belong here:
//   - Common test fixtures (predefined configurations, stream catalogs, etc.)
//   - Setup helpers (spin up replica clusters, simulated instances, etc.)
//   - Assertion helpers (verify leader state, check ledger invariants, etc.)
//   - Test data generators (stream catalogs, server IDs, etc.)
//
// Note: For NATS server setup, use the github.com/arloliu/streamd/testing package.
// This package is specifically for integration test scenarios and helper utilities.
package testutil
