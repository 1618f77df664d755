package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageURL(t *testing.T) {
	u, err := PageURL("http://127.0.0.1:8080/ignored?x=1", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/calendar?month=2026-10&static=1", u)

	_, err = PageURL("://bad", "2026-10")
	assert.Error(t, err)
}

func TestLocalBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", LocalBaseURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", LocalBaseURL("0.0.0.0:9000"))
	assert.Equal(t, "http://127.0.0.1:9000", LocalBaseURL("[::]:9000"))
	assert.Equal(t, "http://192.168.1.5:8080", LocalBaseURL("192.168.1.5:8080"))
	assert.Equal(t, "http://[::1]:8080", LocalBaseURL("[::1]:8080"))
}

func TestMonthPNGRequiresBaseURL(t *testing.T) {
	_, err := MonthPNG(context.Background(), "2026-10", Options{})
	assert.Error(t, err)
}
