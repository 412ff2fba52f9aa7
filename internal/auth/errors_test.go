// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind auth.ErrorKind
	}{
		{"validation", auth.NewValidationError("email: must be a valid email address"), auth.KindValidation},
		{"conflict", auth.NewConflictError("a@x.com"), auth.KindConflict},
		{"invalid credentials", auth.NewInvalidCredentialsError(), auth.KindInvalidCredentials},
		{"rate limited", auth.NewRateLimitedError("15m0s"), auth.KindRateLimited},
		{"invalid token", auth.NewInvalidTokenError("expired"), auth.KindInvalidToken},
		{"unauthorized", auth.NewUnauthorizedError("not your profile"), auth.KindUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, auth.ErrorKindOf(tt.err))
			assert.True(t, auth.IsKind(tt.err, tt.kind))
			errutil.AssertErrorCode(t, tt.err, tt.kind.String())
		})
	}
}

func TestErrorKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, auth.ErrorKind(""), auth.ErrorKindOf(nil))
	assert.Equal(t, auth.ErrorKind(""), auth.ErrorKindOf(errors.New("boom")))
	assert.Equal(t, auth.ErrorKind(""), auth.ErrorKindOf(oops.Code("USER_CREATE_FAILED").Errorf("db down")))
	assert.False(t, auth.IsKind(nil, auth.KindValidation))
}

func TestNewValidationError_ListsViolations(t *testing.T) {
	err := auth.NewValidationError("email: cannot be blank", "password: cannot be blank")
	assert.Contains(t, err.Error(), "email: cannot be blank")
	assert.Contains(t, err.Error(), "password: cannot be blank")
	errutil.AssertErrorContext(t, err, "violations", []string{"email: cannot be blank", "password: cannot be blank"})
}

func TestInvalidCredentialsMessageIsGeneric(t *testing.T) {
	assert.Equal(t, "invalid email or password", auth.NewInvalidCredentialsError().Error())
}
