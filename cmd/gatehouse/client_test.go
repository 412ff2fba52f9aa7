// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

const (
	cliEmail    = "ada@example.com"
	cliPassword = "Abcd123!"
	cliNewPass  = "Zyxw987$"
)

var tokenPattern = regexp.MustCompile(`(Verification|Password reset) token for \S+: ([0-9a-f]{64})`)

// printedToken extracts the one-time token of the given label from out.
func printedToken(t *testing.T, out, label string) string {
	t.Helper()
	for _, m := range tokenPattern.FindAllStringSubmatch(out, -1) {
		if m[1] == label {
			return m[2]
		}
	}
	t.Fatalf("no %s token in output:\n%s", label, out)
	return ""
}

func TestClientCommands_SessionLifecycle(t *testing.T) {
	dir := isolate(t)
	cfg := writeConfig(t, dir, "")
	run := func(args ...string) (string, error) {
		return execute(t, nil, append([]string{"--config", cfg}, args...)...)
	}

	out, err := run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")

	out, err = run("register", "--email", cliEmail, "--password", cliPassword, "--confirm", cliPassword,
		"--first-name", "Ada")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered and logged in as "+cliEmail)
	verification := printedToken(t, out, "Verification")

	out, err = run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, cliEmail)
	assert.Contains(t, out, "Verified: false")
	assert.Contains(t, out, "Ada")

	out, err = run("verify-email", "--token", verification)
	require.NoError(t, err)
	assert.Contains(t, out, "Email verified")

	_, err = run("verify-email", "--token", verification)
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidToken))

	out, err = run("whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Verified: true")

	out, err = run("profile", "set", "last_name=Lovelace", "business_name=Engines")
	require.NoError(t, err)
	assert.Contains(t, out, "Lovelace")
	assert.Contains(t, out, "Engines")

	_, err = run("profile", "set", "email=x@example.com")
	errutil.AssertErrorCode(t, err, string(auth.KindValidation))

	_, err = run("profile", "set", "no-equals-sign")
	errutil.AssertErrorCode(t, err, string(auth.KindValidation))

	out, err = run("refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Access token valid until")

	out, err = run("audit")
	require.NoError(t, err)
	assert.Contains(t, out, "signup")
	assert.Contains(t, out, "email_verification")
	assert.Contains(t, out, "profile_update")

	out, err = run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")

	_, err = run("refresh")
	errutil.AssertErrorCode(t, err, string(auth.KindUnauthorized))

	_, err = run("login", "--email", cliEmail, "--password", "Wrong123!")
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidCredentials))

	out, err = run("login", "--email", cliEmail, "--password", cliPassword, "--remember")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as "+cliEmail)
}

func TestClientCommands_PasswordReset(t *testing.T) {
	dir := isolate(t)
	cfg := writeConfig(t, dir, "")
	run := func(args ...string) (string, error) {
		return execute(t, nil, append([]string{"--config", cfg}, args...)...)
	}

	_, err := run("register", "--email", cliEmail, "--password", cliPassword, "--confirm", cliPassword)
	require.NoError(t, err)
	_, err = run("logout")
	require.NoError(t, err)

	out, err := run("password-reset", "request", "--email", "nobody@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "If the account exists")
	assert.NotContains(t, out, "Password reset token")

	out, err = run("password-reset", "request", "--email", cliEmail)
	require.NoError(t, err)
	token := printedToken(t, out, "Password reset")

	_, err = run("password-reset", "complete", "--token", token, "--password", cliNewPass, "--confirm", "Mismatch1!")
	errutil.AssertErrorCode(t, err, string(auth.KindValidation))

	out, err = run("password-reset", "complete", "--token", token, "--password", cliNewPass, "--confirm", cliNewPass)
	require.NoError(t, err)
	assert.Contains(t, out, "Password updated")

	_, err = run("password-reset", "complete", "--token", token, "--password", cliNewPass, "--confirm", cliNewPass)
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidToken))

	_, err = run("login", "--email", cliEmail, "--password", cliPassword)
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidCredentials))

	out, err = run("login", "--email", cliEmail, "--password", cliNewPass)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as")
}

func TestClientCommands_ResendVerification(t *testing.T) {
	dir := isolate(t)
	cfg := writeConfig(t, dir, "")
	run := func(args ...string) (string, error) {
		return execute(t, nil, append([]string{"--config", cfg}, args...)...)
	}

	out, err := run("register", "--email", cliEmail, "--password", cliPassword, "--confirm", cliPassword)
	require.NoError(t, err)
	first := printedToken(t, out, "Verification")

	out, err = run("verify-email", "--resend")
	require.NoError(t, err)
	second := printedToken(t, out, "Verification")
	assert.NotEqual(t, first, second)

	_, err = run("verify-email", "--token", first)
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidToken))
}

func TestClientCommands_RequireSession(t *testing.T) {
	dir := isolate(t)
	cfg := writeConfig(t, dir, "")

	for _, args := range [][]string{
		{"profile", "set", "first_name=Ada"},
		{"verify-email", "--token", "abc"},
		{"verify-email", "--resend"},
		{"audit"},
	} {
		_, err := execute(t, nil, append([]string{"--config", cfg}, args...)...)
		errutil.AssertErrorCode(t, err, string(auth.KindUnauthorized))
	}
}

func TestAuditCommand_MemoryStoreHasNoHistory(t *testing.T) {
	dir := isolate(t)
	cfg := writeConfig(t, dir, "store:\n  driver: memory\n")

	_, err := execute(t, nil, "--config", cfg, "audit")
	errutil.AssertErrorCode(t, err, "AUDIT_UNAVAILABLE")
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{"first_name=Ada", "last_name=", "business_name=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"first_name":    "Ada",
		"last_name":     "",
		"business_name": "a=b",
	}, fields)

	_, err = parseAssignments([]string{"=x"})
	errutil.AssertErrorCode(t, err, string(auth.KindValidation))
}
