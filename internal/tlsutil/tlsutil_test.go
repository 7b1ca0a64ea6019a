package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSigned(nil)
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cert.Subject.CommonName)
	assert.Equal(t, []string{"Test Org"}, cert.Subject.Organization)
	assert.Equal(t, []string{"US"}, cert.Subject.Country)
	assert.Equal(t, []string{"localhost"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.NoError(t, cert.VerifyHostname("localhost"))

	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, elliptic.P256(), pub.Curve)

	keyBlock, _ := pem.Decode(keyPEM)
	require.NotNil(t, keyBlock)
	assert.Equal(t, "PRIVATE KEY", keyBlock.Type)
}

func TestServerConfigFromPEM_Rejects(t *testing.T) {
	_, err := ServerConfigFromPEM([]byte("nope"), []byte("nope"))
	assert.Error(t, err)

	_, err = LoadServerConfig("/does/not/exist.pem", "/does/not/exist.key")
	assert.Error(t, err)
}

func TestWriteSelfSigned_LoadsAndServes(t *testing.T) {
	certFile, keyFile, err := WriteSelfSigned(t.TempDir(), []string{"127.0.0.1"})
	require.NoError(t, err)

	cfg, err := LoadServerConfig(certFile, keyFile)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "secure")
	}))
	srv.TLS = cfg
	srv.StartTLS()
	defer srv.Close()

	// The test client trusts the server's leaf, which must carry a 127.0.0.1 SAN.
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "secure", string(body))
}
