package middleware

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func FuzzParseBearerToken(f *testing.F) {
	f.Add("Bearer token")
	f.Add("bearer value")
	f.Add("Basic value")
	f.Add("")
	f.Add("Bearer")

	f.Fuzz(func(t *testing.T, authorizationHeader string) {
		token, err := parseBearerToken(authorizationHeader)
		parts := strings.Fields(authorizationHeader)
		expectOK := len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != ""

		if expectOK {
			if err != nil {
				t.Fatalf("parseBearerToken(%q) error = %v, want nil", authorizationHeader, err)
			}
			if token != parts[1] {
				t.Fatalf("parseBearerToken(%q) token = %q, want %q", authorizationHeader, token, parts[1])
			}
			return
		}

		if err == nil {
			t.Fatalf("parseBearerToken(%q) error = nil, want non-nil", authorizationHeader)
		}
	})
}

func FuzzParseAPIKeyToken(f *testing.F) {
	f.Add("abc.def")
	f.Add("abc")
	f.Add(".")
	f.Add("a.b.c")

	f.Fuzz(func(t *testing.T, token string) {
		id, secret, err := ParseAPIKeyToken(token)
		if err != nil {
			return
		}
		if id == "" || secret == "" || strings.Contains(id, ".") {
			t.Fatalf("ParseAPIKeyToken(%q) = (%q, %q)", token, id, secret)
		}
		if FormatAPIKeyToken(id, secret) != token {
			t.Fatalf("FormatAPIKeyToken(ParseAPIKeyToken(%q)) did not round-trip", token)
		}
	})
}

func FuzzAPIKeyMatchesHash(f *testing.F) {
	validHash, err := bcrypt.GenerateFromPassword([]byte("seed-secret"), bcrypt.MinCost)
	if err != nil {
		f.Fatalf("bcrypt(seed-secret) error = %v", err)
	}

	f.Add(string(validHash), "seed-secret")
	f.Add(string(validHash), "wrong-secret")
	f.Add("not-a-hash", "secret")

	f.Fuzz(func(t *testing.T, expectedHash, apiKey string) {
		got := APIKeyMatchesHash(expectedHash, apiKey)

		if expectedHash == string(validHash) && apiKey == "seed-secret" && !got {
			t.Fatalf("expected bcrypt hash to match seed secret")
		}
		if expectedHash == string(validHash) && apiKey == "wrong-secret" && got {
			t.Fatalf("expected bcrypt hash to reject wrong secret")
		}
	})
}
