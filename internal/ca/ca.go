// Package ca implements the on-demand TLS certificate authority described in
// spec.md §4.2: a root-signed leaf issuer that generates and caches
// certificates keyed by SNI, serving them during the TLS handshake.
package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"
)

// Options configures the CA at startup.
type Options struct {
	RootCertPEM []byte
	RootKeyPEM  []byte

	DefaultDomain string
	Organisation  string
	Locality      string

	// LeafValidity is how long minted leaf certificates are valid for.
	LeafValidity time.Duration
}

// CA mints and caches leaf certificates signed by a configured root.
//
// Thread-safe: GenerateCertificate is called concurrently from every TLS
// handshake; a per-hostname serialisation point ensures concurrent requests
// for the same new SNI generate the certificate exactly once (§5).
type CA struct {
	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey

	defaultDomain string
	organisation  string
	locality      string
	leafValidity  time.Duration

	mu    sync.RWMutex
	cache map[string]*tls.Certificate

	genMu sync.Mutex
	gens  map[string]*sync.Once
}

// New parses the root cert/key and prepares an empty leaf cache. Invalid CA
// input fails here, matching "invalid CA input fails at startup" (§4.2).
func New(opts Options) (*CA, error) {
	certBlock, _ := pem.Decode(opts.RootCertPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("ca: no PEM block found in root certificate")
	}
	rootCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parsing root certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(opts.RootKeyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("ca: no PEM block found in root key")
	}
	rootKey, err := parsePrivateKey(keyBlock)
	if err != nil {
		return nil, fmt.Errorf("ca: parsing root key: %w", err)
	}

	validity := opts.LeafValidity
	if validity <= 0 {
		validity = 365 * 24 * time.Hour
	}

	return &CA{
		rootCert:      rootCert,
		rootKey:       rootKey,
		defaultDomain: opts.DefaultDomain,
		organisation:  opts.Organisation,
		locality:      opts.Locality,
		leafValidity:  validity,
		cache:         make(map[string]*tls.Certificate),
		gens:          make(map[string]*sync.Once),
	}, nil
}

func parsePrivateKey(block *pem.Block) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("root key is not ECDSA")
	}
	return ecKey, nil
}

// GenerateCertificate returns the cached leaf for hostname, generating and
// caching it on first use. Hostname is normalised (lowercased, trailing dot
// trimmed); IP literals go into IP SANs, DNS names into DNS SANs.
func (c *CA) GenerateCertificate(hostname string) (*tls.Certificate, error) {
	key := normaliseHostname(hostname)
	if key == "" {
		key = c.defaultHostname()
	}

	c.mu.RLock()
	if cert, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cert, nil
	}
	c.mu.RUnlock()

	once := c.onceFor(key)
	var genErr error
	var cert *tls.Certificate
	once.Do(func() {
		cert, genErr = c.generate(key)
		if genErr == nil {
			c.mu.Lock()
			c.cache[key] = cert
			c.mu.Unlock()
		}
	})
	if genErr != nil {
		return nil, genErr
	}
	if cert == nil {
		// Another goroutine's Once.Do ran the generation; its certificate is
		// in the cache unless that generation failed.
		c.mu.RLock()
		cert = c.cache[key]
		c.mu.RUnlock()
		if cert == nil {
			return nil, fmt.Errorf("ca: certificate generation for %q failed", key)
		}
	}
	return cert, nil
}

func (c *CA) onceFor(key string) *sync.Once {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	once, ok := c.gens[key]
	if !ok {
		once = &sync.Once{}
		c.gens[key] = once
	}
	return once
}

func (c *CA) defaultHostname() string {
	if c.defaultDomain != "" {
		return c.defaultDomain
	}
	return "localhost"
}

// SNICallback returns a GetCertificate function suitable for
// tls.Config.GetCertificate, implementing "generateCertificate(sni ||
// defaultDomain || "localhost")" (§4.2).
func (c *CA) SNICallback() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		host := hello.ServerName
		if host == "" {
			host = c.defaultHostname()
		}
		return c.GenerateCertificate(host)
	}
}

func (c *CA) generate(hostname string) (*tls.Certificate, error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ca: generating leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("ca: generating serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   hostname,
			Organization: nonEmptySlice(c.organisation),
			Locality:     nonEmptySlice(c.locality),
		},
		Issuer:                c.rootCert.Subject,
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(c.leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, c.rootCert, &leafKey.PublicKey, c.rootKey)
	if err != nil {
		return nil, fmt.Errorf("ca: signing leaf certificate for %q: %w", hostname, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{derBytes, c.rootCert.Raw},
		PrivateKey:  leafKey,
		Leaf:        template,
	}, nil
}

func nonEmptySlice(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func normaliseHostname(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	return h
}
