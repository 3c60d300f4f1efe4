package core

import "golang.org/x/oauth2"

const codeChallengeMethod = "S256"

// PKCE is a verifier/challenge pair generated for one authorization attempt.
type PKCE struct {
	Verifier  string
	Challenge string
}

func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}
