// Package identity implements tube's identity foundation.
//
// It contains the canonical user record, the credential store boundary shared
// by the session and HTTP layers, password hashing, field normalization, and
// the typed error taxonomy the whole service maps onto HTTP status codes.
//
// This package is intentionally dependency-light and security-first.
package identity
