package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseURL(t *testing.T) {
	t.Run("prefers the test variable", func(t *testing.T) {
		t.Setenv(EnvTestDatabaseURL, "postgres://test@localhost/paygate_test")
		t.Setenv(EnvDatabaseURL, "postgres://app@localhost/paygate")

		assert.Equal(t, "postgres://test@localhost/paygate_test", DatabaseURL())
	})

	t.Run("falls back to DATABASE_URL", func(t *testing.T) {
		t.Setenv(EnvTestDatabaseURL, "")
		t.Setenv(EnvDatabaseURL, "postgres://app@localhost/paygate")

		assert.Equal(t, "postgres://app@localhost/paygate", DatabaseURL())
	})

	t.Run("empty when unset", func(t *testing.T) {
		t.Setenv(EnvTestDatabaseURL, "")
		t.Setenv(EnvDatabaseURL, "")

		assert.Empty(t, DatabaseURL())
	})
}

func TestMaskURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"password", "postgres://app:hunter2@db:5432/paygate?sslmode=disable", "postgres://app:xxxxx@db:5432/paygate?sslmode=disable"},
		{"no password", "postgres://app@db/paygate", "postgres://app@db/paygate"},
		{"not a url", "app:hunter2", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskURL(tt.in))
		})
	}
}

func TestOpenSkipsWithoutURL(t *testing.T) {
	t.Setenv(EnvTestDatabaseURL, "")
	t.Setenv(EnvDatabaseURL, "")

	skipped := t.Run("open", func(t *testing.T) {
		Open(t)
		t.Error("Open should have skipped")
	})

	assert.True(t, skipped)
}
