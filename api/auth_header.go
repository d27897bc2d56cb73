package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

var basicPrefix = [...]byte{'b', 'a', 's', 'i', 'c', ' '}

func basicCredentialsFromString(raw string) ([]byte, []byte, error) {
	start := 0
	end := len(raw)
	for start < end && raw[start] == ' ' {
		start++
	}
	for end > start && raw[end-1] == ' ' {
		end--
	}
	if start >= end {
		return nil, nil, errMissingAuthorization
	}
	value := readOnlyBytes(raw[start:end])
	if len(value) <= len(basicPrefix) {
		return nil, nil, errBadAuthorization
	}
	if !hasBasicPrefix(value) {
		return nil, nil, errBadAuthorization
	}
	encoded := value[len(basicPrefix):]
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(decoded, encoded)
	if err != nil {
		return nil, nil, errBadAuthorization
	}
	decoded = decoded[:n]
	sep := bytes.IndexByte(decoded, ':')
	if sep < 0 {
		return nil, nil, errBadAuthorization
	}
	return decoded[:sep], decoded[sep+1:], nil
}

// hasBasicPrefix matches the scheme letters case-insensitively and the
// separator as an exact space.
func hasBasicPrefix(value []byte) bool {
	if len(value) < len(basicPrefix) {
		return false
	}
	for i, want := range basicPrefix {
		got := value[i]
		if want != ' ' {
			got |= 0x20
		}
		if got != want {
			return false
		}
	}
	return true
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
