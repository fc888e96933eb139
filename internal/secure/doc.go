// Package secure keeps access tokens and client secrets out of plain Go
// memory.
//
// Values are sealed in a memguard enclave (XSalsa20Poly1305, mlocked where
// the platform allows it) and only decrypted for the duration of a call:
//
//	buf := secure.NewSecureString(token)
//	defer buf.Destroy()
//
//	plain, err := buf.String()
//
// String returns an ordinary Go string, so the copy handed to the caller is
// no longer protected. Use Open when the plaintext should stay in a locked
// buffer.
package secure
