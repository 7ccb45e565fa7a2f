package license

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisx/aegisx/internal/credential"
)

func TestComputeChecksum(t *testing.T) {
	tests := []struct {
		serial string
		want   string
	}{
		{"ABCDEF12", "C4"},
		{"abcdef12", "C4"},
		{"TEST1234", "2C"},
		{"ZZZZ9999", "40"},
		{"A", "41"},
		{"0000", "00"},
		{"TRIAL001", "85"},
		{"XK7P2M9Q", "01"},
	}
	for _, tt := range tests {
		got := ComputeChecksum(tt.serial)
		assert.Equal(t, tt.want, got, "ComputeChecksum(%q)", tt.serial)
		assert.Equal(t, got, ComputeChecksum(tt.serial), "ComputeChecksum(%q) not deterministic", tt.serial)
	}
}

func TestChecksumIgnoresTier(t *testing.T) {
	var checksums []string
	for _, tier := range Tiers {
		p, ok := ParseKey(BuildKey(tier, "ABCDEF12"))
		require.True(t, ok)
		checksums = append(checksums, p.Checksum)
	}
	for _, c := range checksums {
		assert.Equal(t, "C4", c)
	}
}

func TestParseKey(t *testing.T) {
	p, ok := ParseKey("  aegisx-pro-abcdef12-c4 ")
	require.True(t, ok)
	assert.Equal(t, ParsedKey{Tier: TierPro, Serial: "ABCDEF12", Checksum: "C4"}, p)
	assert.Equal(t, "AEGISX-PRO-ABCDEF12-C4", p.String())

	// Parsing does not verify the checksum.
	_, ok = ParseKey("AEGISX-PRO-ABCDEF12-C5")
	assert.True(t, ok)

	for _, bad := range []string{
		"",
		"AEGISX-PRO-ABCDEF12",
		"AEGISX-PRO-ABCDEF12-C4-XX",
		"OTHER-PRO-ABCDEF12-C4",
		"AEGISX-GOLD-ABCDEF12-C4",
		"AEGISX-PRO--C4",
		"AEGISX-PRO-ABC_EF12-C4",
		"AEGISX-PRO-ABCDEF12-WRONG",
		"AEGISX-PRO-ABCDEF12-G4",
	} {
		_, ok := ParseKey(bad)
		assert.False(t, ok, "ParseKey(%q)", bad)
	}
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"valid", "AEGISX-PRO-ABCDEF12-C4", nil},
		{"lowercase", "aegisx-team-abcdef12-c4", nil},
		{"wrong checksum", "AEGISX-PRO-ABCDEF12-C5", credential.ErrChecksum},
		{"checksum not hex", "AEGISX-PRO-ABCDEF12-WRONG", credential.ErrFormat},
		{"empty checksum", "AEGISX-PRO-ABCDEF12-", credential.ErrFormat},
		{"short checksum", "AEGISX-PRO-ABCDEF12-C", credential.ErrFormat},
		{"long checksum", "AEGISX-PRO-ABCDEF12-C4C4", credential.ErrFormat},
		{"non-hex checksum", "AEGISX-PRO-ABCDEF12-G4", credential.ErrFormat},
		{"unknown tier", "AEGISX-GOLD-ABCDEF12-C4", credential.ErrUnknownTier},
		{"wrong product", "ACME-PRO-ABCDEF12-C4", credential.ErrFormat},
		{"too few segments", "AEGISX-PRO-ABCDEF12", credential.ErrFormat},
		{"empty serial", "AEGISX-PRO--00", credential.ErrFormat},
		{"symbol in serial", "AEGISX-PRO-AB.DEF12-C4", credential.ErrFormat},
		{"empty", "   ", credential.ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateKeyFormat(tt.raw)
			if tt.wantErr == nil {
				require.True(t, res.Valid, "unexpected error: %v", res.Err)
				assert.NoError(t, res.Err)
				assert.Equal(t, "ABCDEF12", res.Parsed.Serial)
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, ParsedKey{}, res.Parsed)
			assert.ErrorIs(t, res.Err, tt.wantErr)
		})
	}
}

func TestValidateKeyFormatErrorsAreDistinct(t *testing.T) {
	checksum := ValidateKeyFormat("AEGISX-PRO-ABCDEF12-C5").Err
	tier := ValidateKeyFormat("AEGISX-GOLD-ABCDEF12-C4").Err
	format := ValidateKeyFormat("AEGISX-PRO").Err

	assert.False(t, errors.Is(checksum, credential.ErrUnknownTier) || errors.Is(checksum, credential.ErrFormat))
	assert.False(t, errors.Is(tier, credential.ErrChecksum) || errors.Is(tier, credential.ErrFormat))
	assert.False(t, errors.Is(format, credential.ErrChecksum) || errors.Is(format, credential.ErrUnknownTier))
}

func TestGenerateTrialKey(t *testing.T) {
	for i := 0; i < 50; i++ {
		key, err := GenerateTrialKey()
		require.NoError(t, err)
		res := ValidateKeyFormat(key)
		require.True(t, res.Valid, "generated %q: %v", key, res.Err)
		assert.Equal(t, TierTrial, res.Parsed.Tier)
		assert.Len(t, res.Parsed.Serial, SerialLength)
	}
}

func TestGenerateKey(t *testing.T) {
	for _, tier := range Tiers {
		key, err := GenerateKey(tier)
		require.NoError(t, err)
		p, ok := ParseKey(key)
		require.True(t, ok)
		assert.Equal(t, tier, p.Tier)
	}
	_, err := GenerateKey(Tier("GOLD"))
	assert.ErrorIs(t, err, credential.ErrUnknownTier)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "AEGISX-PRO-****-C4", MaskKey("aegisx-pro-abcdef12-c4"))
	assert.Equal(t, "****", MaskKey("not a key"))
}
