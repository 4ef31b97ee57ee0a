package findings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("Repeated auth failures for root", "high", "it_security")
	assert.Equal(t, "repeated auth failures for root|high|it_security", fp)
}

func TestFingerprint_NormalisesVolatileTokens(t *testing.T) {
	a := Fingerprint("Disk usage at 91% on host 10", "medium", "")
	b := Fingerprint("Disk  usage at 87% on host 12", "medium", "")
	assert.Equal(t, a, b)

	c := Fingerprint("Session 9f1c2a4e-8b3d-4f6a-9c1e-2d3f4a5b6c7d leaked", "low", "")
	d := Fingerprint("Session 00000000-1111-2222-3333-444444444444 leaked", "low", "")
	assert.Equal(t, c, d)
}

func TestFingerprint_SeverityAndCriterionDistinguish(t *testing.T) {
	base := Fingerprint("same text", "high", "anomaly")
	assert.NotEqual(t, base, Fingerprint("same text", "low", "anomaly"))
	assert.NotEqual(t, base, Fingerprint("same text", "high", "it_security"))
}

func TestFingerprint_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("very long finding text ", 20)
	fp := Fingerprint(long, "low", "")
	fp2 := Fingerprint(long+"with a different tail entirely", "low", "")
	assert.Equal(t, fp, fp2)
}

func TestTokenSetSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, TokenSetSimilarity("auth failures spiking", "Auth failures spiking"))
	assert.Equal(t, 0.0, TokenSetSimilarity("alpha beta", "gamma delta"))
	assert.Equal(t, 0.0, TokenSetSimilarity("", "something"))

	// Punctuation is stripped before comparison.
	assert.Equal(t, 1.0, TokenSetSimilarity("failures, spiking!", "failures spiking"))

	// {a,b,c} vs {b,c,d}: intersection 2, union 4.
	assert.InDelta(t, 0.5, TokenSetSimilarity("a b c", "b c d"), 1e-9)
}
