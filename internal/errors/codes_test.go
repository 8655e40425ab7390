package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ErrCodeOK},
		{"not found", KeyNotFound("a"), ErrCodeKeyNotFound},
		{"wrapped", fmt.Errorf("get: %w", KeyNotFound("a")), ErrCodeKeyNotFound},
		{"plain error", io.EOF, ErrCodeInternal},
		{"disk full", DiskFull(97.5, 10), ErrCodeDiskFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetCode(tt.err))
		})
	}
}

func TestStorageError(t *testing.T) {
	t.Run("message includes cause", func(t *testing.T) {
		err := StorageIO("write", "k", io.ErrUnexpectedEOF)
		assert.Contains(t, err.Error(), "write failed for key 'k'")
		assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("client errors", func(t *testing.T) {
		assert.True(t, InvalidKey("a b", "contains whitespace").IsClientError())
		assert.True(t, ValueTooLarge(120001, 120000).IsClientError())
		assert.False(t, InternalError("boom", nil).IsClientError())
	})

	t.Run("details", func(t *testing.T) {
		err := MigrationFailed("server2", 3, io.EOF)
		assert.Equal(t, "server2", err.Details["target"])
		assert.Equal(t, 3, err.Details["keys_sent"])
		assert.True(t, IsStorageError(fmt.Errorf("wrap: %w", err)))
		assert.True(t, IsNotFound(KeyNotFound("x")))
		assert.False(t, IsNotFound(err))
	})
}
