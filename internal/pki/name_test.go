package pki

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildName(t *testing.T) {
	t.Run("keeps insertion order", func(t *testing.T) {
		dn := testName(t, "Root")

		attrs := dn.Attributes()
		require.Len(t, attrs, 4)
		require.Equal(t, Attribute{Type: AttributeCountry, Value: "AU"}, attrs[0])
		require.Equal(t, Attribute{Type: AttributeCommonName, Value: "Root"}, attrs[3])
		require.Equal(t, "CN=Root,L=City,O=Test,C=AU", dn.String())
	})

	t.Run("duplicate attribute types are allowed", func(t *testing.T) {
		dn, err := BuildName(
			Attribute{Type: AttributeOrganizationalUnit, Value: "Eng"},
			Attribute{Type: AttributeOrganizationalUnit, Value: "Ops"},
		)
		require.NoError(t, err)
		require.Equal(t, 2, dn.Len())
		require.Equal(t, "OU=Ops,OU=Eng", dn.String())
	})

	t.Run("unknown attribute type", func(t *testing.T) {
		_, err := BuildName(Attribute{Type: AttributeType(99), Value: "x"})
		require.ErrorIs(t, err, ErrUnknownAttributeType)
	})

	t.Run("non IA5 email address", func(t *testing.T) {
		_, err := BuildName(Attribute{Type: AttributeEmailAddress, Value: "björn@example.com"})
		require.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("builder keeps the first error", func(t *testing.T) {
		_, err := NewNameBuilder().
			AddNamed("XX", "first").
			Add(AttributeType(99), "second").
			Build()
		require.ErrorIs(t, err, ErrUnknownAttributeType)
		require.Contains(t, err.Error(), "XX")
	})

	t.Run("empty name", func(t *testing.T) {
		dn, err := BuildName()
		require.NoError(t, err)
		require.Equal(t, 0, dn.Len())
		require.Equal(t, "", dn.String())
	})
}

func TestParseAttributeType(t *testing.T) {
	tests := []struct {
		in   string
		want AttributeType
	}{
		{"CN", AttributeCommonName},
		{"cn", AttributeCommonName},
		{"commonName", AttributeCommonName},
		{"2.5.4.3", AttributeCommonName},
		{"S", AttributeState},
		{"emailAddress", AttributeEmailAddress},
		{"E", AttributeEmailAddress},
		{"DC", AttributeDomainComponent},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAttributeType(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown name", func(t *testing.T) {
		_, err := ParseAttributeType("favouriteColour")
		require.ErrorIs(t, err, ErrUnknownAttributeType)
	})
}

func TestParseDistinguishedName(t *testing.T) {
	t.Run("reverses into encoding order", func(t *testing.T) {
		dn, err := ParseDistinguishedName("CN=Root,L=City,O=Test,C=AU")
		require.NoError(t, err)
		require.True(t, dn.Equal(testName(t, "Root")))
	})

	t.Run("string form round trips", func(t *testing.T) {
		in := `CN=Smith\, John,OU=R\+D,C=AU`

		dn, err := ParseDistinguishedName(in)
		require.NoError(t, err)
		require.Equal(t, "Smith, John", dn.Attributes()[2].Value)
		require.Equal(t, in, dn.String())
	})

	t.Run("malformed string", func(t *testing.T) {
		_, err := ParseDistinguishedName("not a dn")
		require.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("unknown attribute", func(t *testing.T) {
		_, err := ParseDistinguishedName("FOO=bar,C=AU")
		require.ErrorIs(t, err, ErrUnknownAttributeType)
	})
}

func TestDistinguishedNameMarshal(t *testing.T) {
	t.Run("round trips through DER", func(t *testing.T) {
		dn, err := BuildName(
			Attribute{Type: AttributeCountry, Value: "AU"},
			Attribute{Type: AttributeOrganization, Value: "Test"},
			Attribute{Type: AttributeCommonName, Value: "Root"},
			Attribute{Type: AttributeEmailAddress, Value: "root@example.com"},
		)
		require.NoError(t, err)

		der, err := dn.Marshal()
		require.NoError(t, err)

		parsed, err := ParseNameDER(der)
		require.NoError(t, err)
		require.True(t, dn.Equal(parsed))
	})

	t.Run("uses the string type of each attribute", func(t *testing.T) {
		dn, err := BuildName(
			Attribute{Type: AttributeCountry, Value: "AU"},
			Attribute{Type: AttributeCommonName, Value: "Root"},
			Attribute{Type: AttributeEmailAddress, Value: "a@b"},
		)
		require.NoError(t, err)

		der, err := dn.Marshal()
		require.NoError(t, err)

		require.True(t, bytes.Contains(der, []byte{0x13, 0x02, 'A', 'U'}), "country is a PrintableString")
		require.True(t, bytes.Contains(der, []byte{0x0c, 0x04, 'R', 'o', 'o', 't'}), "common name is a UTF8String")
		require.True(t, bytes.Contains(der, []byte{0x16, 0x03, 'a', '@', 'b'}), "email is an IA5String")
	})

	t.Run("one attribute per RDN", func(t *testing.T) {
		der, err := testName(t, "Root").Marshal()
		require.NoError(t, err)

		var rdns pkix.RDNSequence
		_, err = asn1.Unmarshal(der, &rdns)
		require.NoError(t, err)
		require.Len(t, rdns, 4)
		for _, rdn := range rdns {
			require.Len(t, rdn, 1)
		}
	})

	t.Run("empty name encodes an empty sequence", func(t *testing.T) {
		der, err := DistinguishedName{}.Marshal()
		require.NoError(t, err)
		require.Equal(t, []byte{0x30, 0x00}, der)
	})

	t.Run("unknown OID in DER", func(t *testing.T) {
		der, err := asn1.Marshal(pkix.RDNSequence{
			{{Type: asn1.ObjectIdentifier{1, 2, 3, 4}, Value: "x"}},
		})
		require.NoError(t, err)

		_, err = ParseNameDER(der)
		require.ErrorIs(t, err, ErrUnknownAttributeType)
	})
}

func TestEscapeAttributeValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a,b", `a\,b`},
		{"#hash", `\#hash`},
		{"mid#hash", "mid#hash"},
		{" lead", `\ lead`},
		{"trail ", `trail\ `},
		{`q"uote`, `q\"uote`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, escapeAttributeValue(tt.in))
		})
	}
}
