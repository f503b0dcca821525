// Package password provides password hashing and verification for tube.
//
// It implements Argon2id hashing using a PHC-style encoded string format and includes:
// - Configurable Argon2id parameters (resolved once at process start)
// - Password policy validation
// - Strict hash decoding and verification with anti-DoS bounds
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses hashes with parameters that exceed reasonable bounds.
// - Config is passed explicitly to every call site; Hash and Verify never read
//   the environment themselves.
package password
