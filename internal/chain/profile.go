package chain

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/certchain/internal/pki"
)

const defaultValidity = 365 * 24 * time.Hour

// Extension names accepted in an identity's critical list.
const (
	ExtBasicConstraints       = "basic_constraints"
	ExtKeyUsage               = "key_usage"
	ExtExtKeyUsage            = "ext_key_usage"
	ExtSubjectKeyIdentifier   = "subject_key_identifier"
	ExtAuthorityKeyIdentifier = "authority_key_identifier"
	ExtSubjectAltName         = "subject_alt_name"
	ExtIssuerAltName          = "issuer_alt_name"
)

var extensionNames = []string{
	ExtBasicConstraints,
	ExtKeyUsage,
	ExtExtKeyUsage,
	ExtSubjectKeyIdentifier,
	ExtAuthorityKeyIdentifier,
	ExtSubjectAltName,
	ExtIssuerAltName,
}

// Profile describes the three identities of a chain.
type Profile struct {
	TrustAnchor IdentityProfile `yaml:"trust_anchor"`
	CA          IdentityProfile `yaml:"ca"`
	EndEntity   IdentityProfile `yaml:"end_entity"`

	// IncludeRoot adds the trust anchor to the management message.
	IncludeRoot bool `yaml:"include_root"`
}

// IdentityProfile holds the inputs for one certificate and its key.
type IdentityProfile struct {
	// Subject attributes as "TYPE=value" in encoding order, e.g. "C=AU" first.
	Subject []string `yaml:"subject"`

	// Serial 0 picks a random 128 bit serial.
	Serial       uint64 `yaml:"serial"`
	KeyAlgorithm string `yaml:"key_algorithm"`
	KeySize      int    `yaml:"key_size"`

	// Empty uses the default for the issuer key.
	SignatureAlgorithm string        `yaml:"signature_algorithm"`
	ValidFor           time.Duration `yaml:"valid_for"`

	// Nil omits basic constraints.
	IsCA            *bool     `yaml:"is_ca"`
	PathLen         *int      `yaml:"path_len"`
	KeyUsage        []string  `yaml:"key_usage"`
	ExtKeyUsage     []string  `yaml:"ext_key_usage"`
	SubjectAltNames []AltName `yaml:"subject_alt_names"`
	IssuerAltNames  []AltName `yaml:"issuer_alt_names"`

	// Nil means true.
	SubjectKeyID *bool          `yaml:"subject_key_identifier"`
	Critical     []string       `yaml:"critical"`
	Extensions   []RawExtension `yaml:"extensions"`
}

// AltName is a general name in profile form, see pki.ParseGeneralName.
type AltName struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

// RawExtension is an extension given as an OID and a hex encoded DER value.
type RawExtension struct {
	OID      string `yaml:"oid"`
	Value    string `yaml:"value"`
	Critical bool   `yaml:"critical"`
}

// DefaultProfile returns a three level RSA-2048 chain valid for one year.
func DefaultProfile() *Profile {
	return &Profile{
		TrustAnchor: IdentityProfile{
			Subject:      []string{"C=AU", "O=Test", "L=City", "CN=Root"},
			Serial:       1,
			KeyAlgorithm: string(pki.KeyAlgorithmRSA),
			KeySize:      2048,
			IsCA:         boolPtr(true),
			KeyUsage:     []string{"keyCertSign", "cRLSign"},
			Critical:     []string{ExtBasicConstraints, ExtKeyUsage},
		},
		CA: IdentityProfile{
			Subject:      []string{"C=AU", "O=Test", "L=City", "CN=CA"},
			Serial:       1,
			KeyAlgorithm: string(pki.KeyAlgorithmRSA),
			KeySize:      2048,
			IsCA:         boolPtr(true),
			KeyUsage:     []string{"keyCertSign", "cRLSign"},
			Critical:     []string{ExtBasicConstraints, ExtKeyUsage},
		},
		EndEntity: IdentityProfile{
			Subject:      []string{"C=AU", "O=Test", "L=City", "CN=End Entity"},
			Serial:       1,
			KeyAlgorithm: string(pki.KeyAlgorithmRSA),
			KeySize:      2048,
			IsCA:         boolPtr(false),
			Critical:     []string{ExtBasicConstraints},
		},
	}
}

// LoadProfile reads a YAML profile. Identities missing from the file keep the
// values from DefaultProfile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile over DefaultProfile and validates it.
func ParseProfile(data []byte) (*Profile, error) {
	p := DefaultProfile()

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML profile: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate checks every identity can be turned into a certificate request.
func (p *Profile) Validate() error {
	for _, id := range []struct {
		name    string
		profile IdentityProfile
	}{
		{"trust_anchor", p.TrustAnchor},
		{"ca", p.CA},
		{"end_entity", p.EndEntity},
	} {
		if _, err := id.profile.subject(); err != nil {
			return fmt.Errorf("%s: %w", id.name, err)
		}
		if _, err := id.profile.keyAlgorithm(); err != nil {
			return fmt.Errorf("%s: %w", id.name, err)
		}
		if id.profile.ValidFor < 0 {
			return fmt.Errorf("%s: %w: negative valid_for", id.name, pki.ErrInvalidValidityWindow)
		}
		for _, c := range id.profile.Critical {
			if !isExtensionName(c) {
				return fmt.Errorf("%s: unknown extension %q in critical, expected one of %s",
					id.name, c, strings.Join(extensionNames, ", "))
			}
			if c == ExtSubjectKeyIdentifier || c == ExtAuthorityKeyIdentifier {
				return fmt.Errorf("%s: %w: %s", id.name, pki.ErrInvalidCriticality, c)
			}
		}
		for _, raw := range id.profile.Extensions {
			oid, err := pki.ParseOID(raw.OID)
			if err != nil {
				return fmt.Errorf("%s: %w", id.name, err)
			}
			if raw.Critical && pki.MustBeNonCritical(oid) {
				return fmt.Errorf("%s: %w: %s", id.name, pki.ErrInvalidCriticality, raw.OID)
			}
		}
	}
	return nil
}

func (ip IdentityProfile) subject() (pki.DistinguishedName, error) {
	nb := pki.NewNameBuilder()
	for _, attr := range ip.Subject {
		name, value, ok := strings.Cut(attr, "=")
		if !ok {
			return pki.DistinguishedName{}, fmt.Errorf("%w: subject attribute %q must be TYPE=value", pki.ErrUnknownAttributeType, attr)
		}
		nb.AddNamed(strings.TrimSpace(name), value)
	}

	dn, err := nb.Build()
	if err != nil {
		return pki.DistinguishedName{}, err
	}
	if dn.Len() == 0 {
		return pki.DistinguishedName{}, fmt.Errorf("%w: subject", pki.ErrMissingRequiredField)
	}
	return dn, nil
}

func (ip IdentityProfile) keyAlgorithm() (pki.KeyAlgorithm, error) {
	if ip.KeyAlgorithm == "" {
		return pki.KeyAlgorithmRSA, nil
	}
	return pki.ParseKeyAlgorithm(ip.KeyAlgorithm)
}

func (ip IdentityProfile) validFor() time.Duration {
	if ip.ValidFor == 0 {
		return defaultValidity
	}
	return ip.ValidFor
}

func (ip IdentityProfile) critical(ext string) bool {
	for _, c := range ip.Critical {
		if c == ext {
			return true
		}
	}
	return false
}

// extensions builds the extension set for the identity. The authority key
// identifier is added by the caller since it depends on the issuer.
func (ip IdentityProfile) extensions(kp *pki.KeyPair) (*pki.ExtensionSet, error) {
	exts := pki.NewExtensionSet()

	if ip.IsCA != nil {
		bc := pki.BasicConstraints{IsCA: *ip.IsCA, PathLen: ip.PathLen}
		if err := exts.Add(bc, ip.critical(ExtBasicConstraints)); err != nil {
			return nil, err
		}
	}

	if len(ip.KeyUsage) > 0 {
		var ku pki.KeyUsage
		for _, name := range ip.KeyUsage {
			u, err := pki.ParseKeyUsage(name)
			if err != nil {
				return nil, err
			}
			ku |= u
		}
		if err := exts.Add(ku, ip.critical(ExtKeyUsage)); err != nil {
			return nil, err
		}
	}

	if len(ip.ExtKeyUsage) > 0 {
		var eku pki.ExtendedKeyUsage
		for _, name := range ip.ExtKeyUsage {
			oid, err := pki.ParseExtKeyUsage(name)
			if err != nil {
				return nil, err
			}
			eku = append(eku, oid)
		}
		if err := exts.Add(eku, ip.critical(ExtExtKeyUsage)); err != nil {
			return nil, err
		}
	}

	if ip.SubjectKeyID == nil || *ip.SubjectKeyID {
		keyID, err := pki.SubjectKeyID(kp.VerificationKey())
		if err != nil {
			return nil, err
		}
		if err := exts.Add(pki.SubjectKeyIdentifier{KeyID: keyID}, ip.critical(ExtSubjectKeyIdentifier)); err != nil {
			return nil, err
		}
	}

	if len(ip.SubjectAltNames) > 0 {
		names, err := parseAltNames(ip.SubjectAltNames)
		if err != nil {
			return nil, err
		}
		if err := exts.Add(pki.SubjectAltName{Names: names}, ip.critical(ExtSubjectAltName)); err != nil {
			return nil, err
		}
	}

	if len(ip.IssuerAltNames) > 0 {
		names, err := parseAltNames(ip.IssuerAltNames)
		if err != nil {
			return nil, err
		}
		if err := exts.Add(pki.IssuerAltName{Names: names}, ip.critical(ExtIssuerAltName)); err != nil {
			return nil, err
		}
	}

	for _, raw := range ip.Extensions {
		oid, err := pki.ParseOID(raw.OID)
		if err != nil {
			return nil, err
		}
		value, err := hex.DecodeString(raw.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: extension %s value is not hex: %v", pki.ErrEncoding, raw.OID, err)
		}
		if err := exts.Add(pki.RawExtension{ID: oid, Value: value}, raw.Critical); err != nil {
			return nil, err
		}
	}

	return exts, nil
}

func parseAltNames(in []AltName) ([]pki.GeneralName, error) {
	names := make([]pki.GeneralName, 0, len(in))
	for _, n := range in {
		kind, err := pki.ParseGeneralNameKind(n.Kind)
		if err != nil {
			return nil, err
		}
		gn, err := pki.ParseGeneralName(kind, n.Value)
		if err != nil {
			return nil, err
		}
		names = append(names, gn)
	}
	return names, nil
}

func isExtensionName(name string) bool {
	for _, n := range extensionNames {
		if n == name {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
