package sign

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ivmarkov/ticketflow/internal/domain"
)

func testPayload() Payload {
	return Payload{
		TicketID: "t-1",
		EventID:  42,
		OwnerID:  "buyer",
		OrderID:  "o-1",
		IssuedAt: time.Now().UTC().Truncate(time.Second),
		Nonce:    "n-1",
	}
}

func TestSigner_RoundTrip(t *testing.T) {
	signer := NewSigner("secret")

	token, err := signer.Encode(testPayload())
	assert.NoError(t, err)
	assert.Contains(t, token, ".")

	decoded, err := signer.Decode(token)
	assert.NoError(t, err)
	assert.Equal(t, testPayload(), decoded)
}

func TestSigner_TamperedBodyRejected(t *testing.T) {
	signer := NewSigner("secret")

	token, err := signer.Encode(testPayload())
	assert.NoError(t, err)

	parts := strings.Split(token, ".")
	body, _ := base64.RawURLEncoding.DecodeString(parts[0])
	forged := strings.Replace(string(body), `"t-1"`, `"t-2"`, 1)
	tampered := base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[1]

	_, err = signer.Decode(tampered)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestSigner_WrongSecretRejected(t *testing.T) {
	token, err := NewSigner("secret-a").Encode(testPayload())
	assert.NoError(t, err)

	_, err = NewSigner("secret-b").Decode(token)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestSigner_MalformedTokens(t *testing.T) {
	signer := NewSigner("secret")

	for _, token := range []string{"", "nodot", "a.b.c", "!!!.###", "YQ.YQ"} {
		_, err := signer.Decode(token)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature, "token %q", token)
	}
}
