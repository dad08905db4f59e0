package auth

import (
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Issuer shown in authenticator apps.
const Issuer = "Vector"

// GenerateOTPSecret creates a TOTP secret for an account. The secret and
// the otpauth:// provisioning URL are returned exactly once, at
// registration or rotation; the client renders the QR code from them.
func GenerateOTPSecret(email string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: email,
		Period:      30,
		SecretSize:  32,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateOTP checks a one-time code against an account's secret.
func ValidateOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
