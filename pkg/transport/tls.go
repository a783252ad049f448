// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"
)

// AuthType selects how the client authenticates to the connector.
type AuthType string

const (
	// AuthServer only verifies the server certificate
	AuthServer AuthType = "server"
	// AuthBasic adds HTTP basic credentials
	AuthBasic AuthType = "basic"
	// AuthClientCert presents a PEM certificate and key
	AuthClientCert AuthType = "client_cert"
	// AuthClientPKCS12 presents a certificate and key from a PKCS#12 bundle
	AuthClientPKCS12 AuthType = "client_pkcs12"
)

// Config configures an HTTPTransport.
type Config struct {
	AuthType AuthType

	Username string
	Password string

	CertFile    string
	KeyFile     string
	KeyPassword string

	PKCS12File     string
	PKCS12Password string

	CAFile string

	// RejectUnauthorized enables server certificate verification.
	RejectUnauthorized bool

	// ProxyURL forces a proxy. When empty the environment is consulted
	// unless NoProxy is set.
	ProxyURL string
	NoProxy  bool

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
}

// TLSConfig builds the client TLS configuration for c.
func (c Config) TLSConfig() (*tls.Config, error) {
	// #nosec G402 - verification is governed by RejectUnauthorized
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !c.RejectUnauthorized,
	}

	if c.CAFile != "" {
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, errcodes.Wrap(err, errcodes.ClientCertificateInvalid).
				AppendMessage("CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	switch c.AuthType {
	case AuthServer, AuthBasic, "":
	case AuthClientCert:
		cert, err := loadPEMKeyPair(c.CertFile, c.KeyFile, c.KeyPassword)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case AuthClientPKCS12:
		cert, err := loadPKCS12(c.PKCS12File, c.PKCS12Password)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	default:
		return nil, errcodes.New(errcodes.ConfigReadFailed).
			AppendMessage(fmt.Sprintf("unknown auth type %q", c.AuthType))
	}

	return tlsConfig, nil
}

func (c Config) proxyFunc() (func(*http.Request) (*url.URL, error), error) {
	if c.NoProxy {
		return nil, nil
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil {
			return nil, errcodes.Wrap(err, errcodes.ConfigReadFailed).AppendMessage("proxy url")
		}
		return http.ProxyURL(u), nil
	}
	return http.ProxyFromEnvironment, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	// #nosec G304 - CA file path from trusted config
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caFile)
	}
	return pool, nil
}

// loadPEMKeyPair reads a PEM certificate chain and a PEM key. Encrypted
// PKCS#8 keys are decrypted with password.
func loadPEMKeyPair(certFile, keyFile, password string) (tls.Certificate, error) {
	// #nosec G304 - certificate path from trusted config
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientCertificateInvalid)
	}
	// #nosec G304 - key path from trusted config
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientKeyInvalid)
	}

	var chain [][]byte
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return tls.Certificate{}, errcodes.New(errcodes.ClientCertificateInvalid).
			AppendMessage("no certificate in " + certFile)
	}
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientCertificateInvalid)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, errcodes.New(errcodes.ClientKeyInvalid).
			AppendMessage("no PEM block in " + keyFile)
	}

	if block.Type != "ENCRYPTED PRIVATE KEY" {
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientKeyInvalid)
		}
		return cert, nil
	}

	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
	if err != nil {
		return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientKeyInvalid).
			AppendMessage("decrypt private key")
	}
	return tls.Certificate{Certificate: chain, PrivateKey: key, Leaf: leaf}, nil
}

// loadPKCS12 reads a PKCS#12 bundle holding the client certificate and key.
func loadPKCS12(file, password string) (tls.Certificate, error) {
	// #nosec G304 - bundle path from trusted config
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientCertificateInvalid)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		code := errcodes.ClientCertificateInvalid
		if strings.Contains(err.Error(), "password") {
			code = errcodes.ClientKeyInvalid
		}
		return tls.Certificate{}, errcodes.Wrap(err, code).AppendMessage("PKCS#12 bundle")
	}

	var pemData []byte
	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}
	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return tls.Certificate{}, errcodes.Wrap(err, errcodes.ClientKeyInvalid).AppendMessage("PKCS#12 bundle")
	}
	return cert, nil
}
