// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TEST_ERROR").
		With("key", "value").
		Errorf("something failed")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "operation failed", logEntry["msg"])
	assert.Equal(t, "TEST_ERROR", logEntry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
}

func TestLogWarn_UsesWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarn(logger, "audit write skipped", oops.Code("AUDIT_WRITE_FAILED").Errorf("disk full"))

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "WARN", logEntry["level"])
	assert.Equal(t, "AUDIT_WRITE_FAILED", logEntry["code"])
}

func TestCode(t *testing.T) {
	t.Run("returns code of oops error", func(t *testing.T) {
		assert.Equal(t, "MY_CODE", errutil.Code(oops.Code("MY_CODE").Errorf("boom")))
	})

	t.Run("returns deepest code when wrapped", func(t *testing.T) {
		inner := oops.Code("INNER").Errorf("boom")
		outer := oops.Code("OUTER").Wrap(inner)
		assert.Equal(t, "INNER", errutil.Code(outer))
	})

	t.Run("returns empty for standard errors", func(t *testing.T) {
		assert.Empty(t, errutil.Code(errors.New("plain")))
		assert.Empty(t, errutil.Code(nil))
	})
}
