// Package certs manages the self-signed server identity qft's QUIC
// transport authenticates with. Grounded on
// original_source/src/server/cert.rs: load cert.der/key.der from disk if
// present, otherwise generate and persist a fresh self-signed pair.
//
// This package is intentionally built on stdlib crypto/tls and
// crypto/x509 rather than a third-party certificate library: no TLS
// cert-generation dependency appears anywhere in the example pack (the
// original used Rust's rcgen, which has no Go analogue among the
// examples), and Go's standard library already covers self-signed X.509
// generation without extra surface. See DESIGN.md.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// ServerIdentity is the name the self-signed certificate is issued for
// and the SNI the client dials, per spec.md's external interfaces.
const ServerIdentity = "qft-server"

// CertFileName and KeyFileName are the on-disk DER file names under the
// app data cert directory.
const (
	CertFileName = "cert.der"
	KeyFileName  = "key.der"
)

// LoadOrGenerate reads cert.der/key.der from dir, generating and
// persisting a fresh self-signed pair for ServerIdentity if either file
// is missing.
func LoadOrGenerate(dir string) (tls.Certificate, error) {
	certPath := filepath.Join(dir, CertFileName)
	keyPath := filepath.Join(dir, KeyFileName)

	certDER, certErr := os.ReadFile(certPath)
	keyDER, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return certFromDER(certDER, keyDER)
	}

	certDER, keyDER, err := generateSelfSigned()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: generate self-signed pair: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: create cert directory %s: %w", dir, err)
	}
	if err := os.WriteFile(certPath, certDER, 0o644); err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyDER, 0o600); err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: write private key: %w", err)
	}
	return certFromDER(certDER, keyDER)
}

func certFromDER(certDER, keyDER []byte) (tls.Certificate, error) {
	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: parse private key: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}

func generateSelfSigned() (certDER, keyDER []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: ServerIdentity},
		DNSNames:     []string{ServerIdentity},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	certDER, err = x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err = x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	return certDER, keyDER, nil
}

// TrustedPool builds a cert pool containing only the given leaf
// certificate's parsed x509.Certificate, for the client side's
// InsecureSkipVerify-free pinning-by-identity model: qft's client trusts
// exactly the certificate the operator distributed out-of-band.
func TrustedPool(certDER []byte) (*x509.CertPool, error) {
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("certs: parse leaf certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return pool, nil
}
