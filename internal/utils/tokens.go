package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strconv"
)

// GenerateSecureToken creates a cryptographically secure random token.
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// SignStudentTicket returns the ticket the exam platform hands a student so
// they can open a monitoring session: hex(HMAC-SHA256(secret, studentID)).
func SignStudentTicket(secret []byte, studentID uint) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatUint(uint64(studentID), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyStudentTicket checks a ticket in constant time.
func VerifyStudentTicket(secret []byte, studentID uint, ticket string) bool {
	if len(secret) == 0 || ticket == "" {
		return false
	}
	want := SignStudentTicket(secret, studentID)
	return hmac.Equal([]byte(want), []byte(ticket))
}

// ConstantTimeEqual compares two secrets without leaking their length
// difference through timing beyond the final comparison.
func ConstantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
