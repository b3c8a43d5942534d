package pki

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"time"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	// KeyStoreKeyAlias is the alias of the private key entry in JKS keystores.
	KeyStoreKeyAlias = "certificate"

	// KeyStoreCAAlias prefixes the trusted certificate entries in JKS keystores.
	KeyStoreCAAlias = "ca"

	minKeyStorePasswordLen = 6
)

// EncodePKCS12 bundles the private key, its certificate and the CA
// certificates into a password protected PKCS#12 file.
func EncodePKCS12(kp *KeyPair, leaf *Certificate, cas []*Certificate, password string) ([]byte, error) {
	if kp == nil || leaf == nil {
		return nil, fmt.Errorf("%w: key pair and certificate", ErrMissingRequiredField)
	}
	if err := leaf.MatchesKey(kp.signer); err != nil {
		return nil, err
	}

	caCerts := make([]*x509.Certificate, 0, len(cas))
	for _, c := range cas {
		caCerts = append(caCerts, c.cert)
	}

	pfx, err := pkcs12.Encode(rand.Reader, kp.signer, leaf.cert, caCerts, password)
	if err != nil {
		return nil, fmt.Errorf("%w: pkcs12: %v", ErrEncoding, err)
	}

	encodedArtifact("PKCS12")
	return pfx, nil
}

// ValidateJKSPassword checks the password is long enough for Java tooling to
// open the keystore.
func ValidateJKSPassword(password string) error {
	if len(password) < minKeyStorePasswordLen {
		return fmt.Errorf("%w: keystore password must be at least %d characters", ErrEncoding, minKeyStorePasswordLen)
	}
	return nil
}

// EncodeJKS writes a Java keystore holding the private key with its full chain
// under KeyStoreKeyAlias, and each CA as a trusted certificate entry named
// "ca", "ca-1", "ca-2" and so on.
func EncodeJKS(kp *KeyPair, leaf *Certificate, cas []*Certificate, password string, created time.Time) ([]byte, error) {
	if kp == nil || leaf == nil {
		return nil, fmt.Errorf("%w: key pair and certificate", ErrMissingRequiredField)
	}
	if err := ValidateJKSPassword(password); err != nil {
		return nil, err
	}
	if err := leaf.MatchesKey(kp.signer); err != nil {
		return nil, err
	}

	keyDER, err := marshalPrivateKey(kp.signer)
	if err != nil {
		return nil, err
	}

	chain := []keystore.Certificate{{Type: "X509", Content: leaf.raw}}
	for _, c := range cas {
		chain = append(chain, keystore.Certificate{Type: "X509", Content: c.raw})
	}

	ks := keystore.New()
	err = ks.SetPrivateKeyEntry(KeyStoreKeyAlias, keystore.PrivateKeyEntry{
		CreationTime:     created,
		PrivateKey:       keyDER,
		CertificateChain: chain,
	}, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: jks private key entry: %v", ErrEncoding, err)
	}

	for i, c := range cas {
		alias := KeyStoreCAAlias
		if i > 0 {
			alias = fmt.Sprintf("%s-%d", KeyStoreCAAlias, i)
		}
		err := ks.SetTrustedCertificateEntry(alias, keystore.TrustedCertificateEntry{
			CreationTime: created,
			Certificate:  keystore.Certificate{Type: "X509", Content: c.raw},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: jks trusted entry %s: %v", ErrEncoding, alias, err)
		}
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: jks: %v", ErrEncoding, err)
	}

	encodedArtifact("JKS")
	return buf.Bytes(), nil
}
