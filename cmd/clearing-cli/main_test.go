package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
)

type capturedRequest struct {
	Method string                   `json:"method"`
	ID     string                   `json:"id"`
	Params []map[string]interface{} `json:"params"`
	Auth   string                   `json:"-"`
}

func newStubNode(t *testing.T, result string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		captured.Auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + captured.ID + `","result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func withToken(t *testing.T, token string) {
	t.Helper()
	previous, previousSecret := rpcAuthToken, jwtSecret
	rpcAuthToken, jwtSecret = token, ""
	t.Cleanup(func() { rpcAuthToken, jwtSecret = previous, previousSecret })
}

func withJWTSecret(t *testing.T, secret string) {
	t.Helper()
	previous := jwtSecret
	jwtSecret = secret
	t.Cleanup(func() { jwtSecret = previous })
}

func TestWriteSendsParamsAndToken(t *testing.T) {
	srv, captured := newStubNode(t, `{"claimId":"0x01"}`)
	withToken(t, "secret")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--rpc", srv.URL, "write", "--caller", "0x10", "--optionId", "0xaa", "--amount", "5"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if captured.Method != "clearing_write" {
		t.Fatalf("unexpected method %s", captured.Method)
	}
	if captured.Auth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", captured.Auth)
	}
	if len(captured.ID) != 36 {
		t.Fatalf("expected uuid request id, got %q", captured.ID)
	}
	if len(captured.Params) != 1 || captured.Params[0]["amount"] != "5" || captured.Params[0]["optionId"] != "0xaa" {
		t.Fatalf("unexpected params %+v", captured.Params)
	}
	if !strings.Contains(stdout.String(), `"claimId": "0x01"`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestQueriesSkipAuthAndTypeFlags(t *testing.T) {
	srv, captured := newStubNode(t, `[]`)
	withToken(t, "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--rpc=" + srv.URL, "events", "--type", "clearing.claim.redeemed", "--limit", "10"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if captured.Auth != "" {
		t.Fatalf("queries must not send credentials")
	}
	params := captured.Params[0]
	if params["limit"] != float64(10) || params["type"] != "clearing.claim.redeemed" {
		t.Fatalf("unexpected params %+v", params)
	}
	if _, ok := params["after"]; ok {
		t.Fatalf("unset optional flags must be omitted: %+v", params)
	}
}

func TestSweepFeesSplitsAssets(t *testing.T) {
	srv, captured := newStubNode(t, `[]`)
	withToken(t, "secret")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--rpc", srv.URL, "sweep-fees", "--assets", "0x01, 0x02,"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	assets, _ := captured.Params[0]["assets"].([]interface{})
	if len(assets) != 2 || assets[1] != "0x02" {
		t.Fatalf("unexpected assets %+v", captured.Params[0])
	}
}

func TestCommandValidation(t *testing.T) {
	withToken(t, "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"redeem", "--caller", "0x10"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected missing claimId to fail")
	}
	if !strings.Contains(stderr.String(), "--claimId is required") {
		t.Fatalf("unexpected error output %q", stderr.String())
	}

	stderr.Reset()
	if code := run([]string{"set-fee-to", "--caller", "0x1", "--recipient", "0x2"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected mutating command without token to fail")
	}

	stderr.Reset()
	if code := run([]string{"bogus"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected unknown command to fail")
	}
}

func TestRPCErrorsAreReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32032,"message":"clearing: option expired"}}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--rpc", srv.URL, "claim", "--id", "0x01"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(stderr.String(), "option expired (code -32032)") {
		t.Fatalf("unexpected error output %q", stderr.String())
	}
}

func TestCallerCommandsSignTokens(t *testing.T) {
	srv, captured := newStubNode(t, `{"ok":true}`)
	withToken(t, "operator")
	withJWTSecret(t, "hmac-secret")

	caller := "0x1010101010101010101010101010101010101010"
	var stdout, stderr bytes.Buffer
	code := run([]string{"--rpc", srv.URL, "redeem", "--caller", caller, "--claimId", "0x01"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	bearer := strings.TrimPrefix(captured.Auth, "Bearer ")
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(bearer, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("hmac-secret"), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		t.Fatalf("caller token did not verify: %v", err)
	}
	if !strings.EqualFold(claims.Subject, caller) {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	// operator commands keep the static token
	if code := run([]string{"--rpc", srv.URL, "sweep-fees", "--assets", caller}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if captured.Auth != "Bearer operator" {
		t.Fatalf("expected operator token, got %q", captured.Auth)
	}

	stderr.Reset()
	if code := run([]string{"--rpc", srv.URL, "write", "--caller", "0x10", "--optionId", "0xaa", "--amount", "1"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected short caller address to fail signing")
	}
}

func TestUsageListsEveryCommand(t *testing.T) {
	text := usage()
	for _, cmd := range commands {
		if !strings.Contains(text, cmd.name) {
			t.Fatalf("usage missing %s", cmd.name)
		}
	}
}
