// Package signer computes the request token the acquiring gateway uses to
// authenticate both outbound API calls and inbound notifications.
//
// The token is the lowercase hex SHA-256 of the values of all top-level
// scalar fields plus the terminal password, concatenated in lexicographic
// order of their keys. Nested objects and arrays (Receipt, DATA) and the
// Token field itself never take part.
package signer

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	TokenField    = "Token"
	PasswordField = "Password"
)

var (
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Token signs fields with secret.
func Token(fields map[string]any, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: empty secret", ErrInvalidPayload)
	}

	values := make(map[string]string, len(fields)+1)
	for key, value := range fields {
		if key == TokenField || key == PasswordField {
			continue
		}
		s, ok, err := scalar(value)
		if err != nil {
			return "", fmt.Errorf("%w: field %s: %v", ErrInvalidPayload, key, err)
		}
		if ok {
			values[key] = s
		}
	}
	if len(values) == 0 {
		return "", fmt.Errorf("%w: no fields to sign", ErrInvalidPayload)
	}
	values[PasswordField] = secret

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(values[key])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the token over fields and compares it with token.
func Verify(fields map[string]any, token, secret string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidPayload)
	}

	expected, err := Token(fields, secret)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(token))) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// scalar renders value the way the gateway does. ok is false for nested
// values that are excluded from signing.
func scalar(value any) (s string, ok bool, err error) {
	switch v := value.(type) {
	case nil:
		return "", false, errors.New("missing value")
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case int:
		return strconv.Itoa(v), true, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint64:
		return strconv.FormatUint(v, 10), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case fmt.Stringer:
		return v.String(), true, nil
	case map[string]any, map[string]string, []any, []map[string]any:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unsupported type %T", value)
	}
}
