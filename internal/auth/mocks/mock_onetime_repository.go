// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// MockOneTimeTokenRepository is a mock of auth.OneTimeTokenRepository.
type MockOneTimeTokenRepository struct {
	mock.Mock
}

// NewMockOneTimeTokenRepository creates a mock that asserts its expectations on cleanup.
func NewMockOneTimeTokenRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockOneTimeTokenRepository {
	m := &MockOneTimeTokenRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Save provides a mock function.
func (m *MockOneTimeTokenRepository) Save(ctx context.Context, token *auth.OneTimeToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// Consume provides a mock function.
func (m *MockOneTimeTokenRepository) Consume(ctx context.Context, kind auth.OneTimeKind, tokenHash string) (*auth.OneTimeToken, error) {
	args := m.Called(ctx, kind, tokenHash)
	token, _ := args.Get(0).(*auth.OneTimeToken)
	return token, args.Error(1)
}

// DeleteExpired provides a mock function.
func (m *MockOneTimeTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1) //nolint:forcetypeassert // mock contract
}
