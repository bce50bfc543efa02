// ABOUTME: HTSP challenge-response digest used by the authenticate method
// ABOUTME: The server checks SHA-1(password || challenge) bit for bit

package auth

import (
	"crypto/sha1"
)

// DigestSize is the length of an authentication digest in bytes
const DigestSize = sha1.Size

// Digest hashes the password immediately followed by the server challenge.
//
// Parameters:
//   - password: The plaintext password bytes
//   - challenge: The opaque bytes the server sent in its hello reply
//
// Returns: The 20-byte SHA-1 digest to send in the "digest" field
func Digest(password, challenge []byte) [DigestSize]byte {
	h := sha1.New()
	h.Write(password)
	h.Write(challenge)

	var d [DigestSize]byte
	copy(d[:], h.Sum(nil))
	return d
}
