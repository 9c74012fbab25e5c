package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/accounts":                  "/v1/accounts",
		"/v1/accounts/abc":              "/v1/accounts/:id",
		"/v1/accounts/abc/balance":      "/v1/accounts/:id/balance",
		"/v1/accounts/abc/statement":    "/v1/accounts/:id/statement",
		"/v1/accounts/abc/extra":        "/v1/accounts/abc/extra",
		"/v1/transactions/abc":          "/v1/transactions/:id",
		"/v1/transactions?limit=10":     "/v1/transactions",
		"/v1/balances/abc":              "/v1/balances/:id",
		"/v1/rates/abc":                 "/v1/rates/:id",
		"/v1/reports/networth":          "/v1/reports/networth",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
