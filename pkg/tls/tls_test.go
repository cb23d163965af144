// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePair writes a self-signed certificate and its key into dir.
func writePair(t *testing.T, dir string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoadTLSConfigDisabled(t *testing.T) {
	c, err := LoadTLSConfig(&Config{})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, "no TLS", SecurityStatus(c))
}

func TestLoadTLSConfig(t *testing.T) {
	certFile, keyFile := writePair(t, t.TempDir())

	c, err := LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	assert.Nil(t, c.ClientCAs)
	assert.Equal(t, "TLS", SecurityStatus(c))
}

func TestLoadTLSConfigMutual(t *testing.T) {
	certFile, keyFile := writePair(t, t.TempDir())

	c, err := LoadTLSConfig(&Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: certFile})
	require.NoError(t, err)
	assert.NotNil(t, c.ClientCAs)
	assert.Equal(t, tls.RequireAndVerifyClientCert, c.ClientAuth)
	assert.Equal(t, "TLS and RequireAndVerifyClientCert", SecurityStatus(c))
}

func TestLoadTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writePair(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o600))

	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"cert only", Config{CertFile: certFile}, errKeyPair},
		{"key only", Config{KeyFile: keyFile}, errKeyPair},
		{"missing files", Config{CertFile: filepath.Join(dir, "x"), KeyFile: filepath.Join(dir, "y")}, errLoadCerts},
		{"missing client ca", Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: filepath.Join(dir, "ca")}, errLoadClientCA},
		{"bad client ca", Config{CertFile: certFile, KeyFile: keyFile, ClientCAFile: garbage}, errAppendCA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTLSConfig(&tt.cfg)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
