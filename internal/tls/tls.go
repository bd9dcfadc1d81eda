// Package tls builds the TLS configuration for the API listener,
// optionally generating a self-signed certificate on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/warden/internal/config"
)

// File names used inside a certificate directory.
const (
	CertFileName = "warden.crt"
	KeyFileName  = "warden.key"
)

// Setup builds the *tls.Config for the API listener, or nil when TLS
// is disabled. With cert_file and key_file set, those are used as-is.
// Otherwise dir is consulted, generating a self-signed pair there
// first when auto_generate is on.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if _, err := loadKeyPair(cfg.CertFile, cfg.KeyFile); err != nil {
			return nil, err
		}
		return newConfig(cfg.CertFile, cfg.KeyFile), nil
	}

	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, CertFileName)
		keyPath := filepath.Join(cfg.Dir, KeyFileName)
		if cfg.AutoGenerate && !keyPairExists(certPath, keyPath) {
			if err := GenerateSelfSigned(cfg.Dir, cfg.Hosts); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		if _, err := loadKeyPair(certPath, keyPath); err != nil {
			return nil, err
		}
		return newConfig(certPath, keyPath), nil
	}

	return nil, errors.New("tls enabled but no certificate configured: set cert_file and key_file, or dir")
}

// newConfig returns a tls.Config that reloads the key pair from disk
// on each handshake, so rotated certificates are picked up without a
// daemon restart.
func newConfig(certPath, keyPath string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadKeyPair(certPath, keyPath)
		},
	}
}

func loadKeyPair(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &cert, nil
}

func keyPairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
