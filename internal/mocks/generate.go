// Package mocks provides gomock implementations of the job status ports
// for tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	tr := mocks.NewMockTransport(ctrl)
//	tr.EXPECT().Trigger(gomock.Any(), "report", gomock.Any(), nil).Return(nil)
package mocks

// MockTransport: Trigger
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=transport_mock.go backjob/internal/jobs Transport

// MockCache: Get, Set, Incr
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_mock.go backjob/internal/jobs Cache

// MockDurable: Insert, Update, Lookup
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=durable_mock.go backjob/internal/jobs Durable
