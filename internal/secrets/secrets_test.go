package secrets

import (
	"bytes"
	"testing"
)

func TestDotenvRoundTrip(t *testing.T) {
	in := map[string]string{
		"API_KEY":   "sk-abc123",
		"WITH_CHAR": "hello world",
	}

	out, err := ParseDotenv(FormatDotenv(in))
	if err != nil {
		t.Fatalf("ParseDotenv: %v", err)
	}
	for k, v := range in {
		if out[k] != v {
			t.Errorf("%s = %q, want %q", k, out[k], v)
		}
	}
}

func TestDotenvRoundTripSpecialCharacters(t *testing.T) {
	in := map[string]string{
		"WINPATH":  `C:\Users\dev`,
		"TOKEN":    `sk-"quoted"`,
		"MIXED":    `a\"b \\ c`,
		"DOLLAR":   "pre$HOME post",
		"TRAILING": `ends with backslash \`,
	}

	out, err := ParseDotenv(FormatDotenv(in))
	if err != nil {
		t.Fatalf("ParseDotenv: %v", err)
	}
	for k, v := range in {
		if out[k] != v {
			t.Errorf("%s = %q, want %q", k, out[k], v)
		}
	}
}

func TestParseDotenvRejectsMalformed(t *testing.T) {
	if _, err := ParseDotenv([]byte("JUSTAKEY\n")); err == nil {
		t.Error("expected error for line without =")
	}
	if _, err := ParseDotenv([]byte("=value\n")); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestParseDotenvSkipsComments(t *testing.T) {
	vars, err := ParseDotenv([]byte("# comment\n\nKEY=v\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 1 || vars["KEY"] != "v" {
		t.Errorf("vars = %v", vars)
	}
}

func TestShapeValid(t *testing.T) {
	if !ShapeAuthFile.Valid() || !ShapeDotenv.Valid() {
		t.Error("known shapes must be valid")
	}
	if Shape("pkcs12").Valid() {
		t.Error("unknown shape must be invalid")
	}
}

func TestAgeRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("ANTHROPIC_API_KEY=sk-test\n")
	ciphertext, err := Encrypt(plaintext, id.Recipient())
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("sk-test")) {
		t.Fatal("ciphertext leaks plaintext")
	}

	// The identity survives the string round trip used by launch params.
	parsed, err := ParseIdentity(id.String())
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	got, err := Decrypt(ciphertext, parsed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt = %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongIdentity(t *testing.T) {
	id1, _ := NewIdentity()
	id2, _ := NewIdentity()

	ciphertext, err := Encrypt([]byte("secret"), id1.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(ciphertext, id2); err == nil {
		t.Error("expected decrypt failure with wrong identity")
	}
}
