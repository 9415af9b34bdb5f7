package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	cfg := Config("redis.internal")
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, "redis.internal", cfg.ServerName)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// Callers may mutate their copy without affecting later configs.
	cfg.CipherSuites[0] = 0
	assert.Equal(t, aeadSuites[0], Config("").CipherSuites[0])
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
}
