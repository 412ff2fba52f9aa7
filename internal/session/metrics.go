// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

// Operation names reported to Metrics.
const (
	OpRegister             = "register"
	OpLogin                = "login"
	OpLogout               = "logout"
	OpRefresh              = "refresh"
	OpPasswordResetRequest = "password_reset_request"
	OpPasswordReset        = "password_reset"
	OpVerifyEmail          = "verify_email"
	OpResendVerification   = "resend_verification"
	OpUpdateProfile        = "update_profile"
)

// Metrics observes manager operations. err is nil on success.
type Metrics interface {
	ObserveOperation(operation string, err error)
	ObserveLockout()
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, error) {}
func (nopMetrics) ObserveLockout()                {}
