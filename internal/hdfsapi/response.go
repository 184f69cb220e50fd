// Package hdfsapi unwraps the JSON envelopes returned by WebHDFS endpoints.
package hdfsapi

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Well-known envelope keys.
const (
	KeyFileStatus      = "FileStatus"
	KeyFileStatuses    = "FileStatuses"
	KeyPath            = "Path"
	KeyBoolean         = "boolean"
	KeyRemoteException = "RemoteException"
)

// ErrMalformed reports a body that is not a JSON object.
var ErrMalformed = errors.New("hdfsapi: malformed JSON body")

// RemoteException mirrors the error envelope the servers attach to 4xx/5xx
// responses.
type RemoteException struct {
	Exception     string `json:"exception"`
	JavaClassName string `json:"javaClassName"`
	Message       string `json:"message"`
}

// Extract walks the object keys in order and returns the raw JSON stored at
// the end of the chain. A missing key or a JSON null anywhere along the way
// yields (nil, nil): absence means "nothing to report". ErrMalformed is
// returned only when a level that should be an object is not one.
func Extract(body []byte, keys ...string) (json.RawMessage, error) {
	current := bytes.TrimSpace(body)
	if len(current) == 0 {
		return nil, ErrMalformed
	}
	for _, key := range keys {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(current, &envelope); err != nil {
			return nil, ErrMalformed
		}
		value, ok := envelope[key]
		if !ok {
			return nil, nil
		}
		value = bytes.TrimSpace(value)
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			return nil, nil
		}
		current = value
	}
	return append(json.RawMessage(nil), current...), nil
}

// Decode extracts the value at keys and unmarshals it into out. found is false
// when the key chain is absent, in which case out is left untouched.
func Decode(body []byte, out any, keys ...string) (found bool, err error) {
	payload, err := Extract(body, keys...)
	if err != nil {
		return false, err
	}
	if payload == nil {
		return false, nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return true, ErrMalformed
	}
	return true, nil
}

// DecodeRemoteException parses an error body. It returns nil when the body
// does not carry a RemoteException envelope.
func DecodeRemoteException(body []byte) *RemoteException {
	var exc RemoteException
	found, err := Decode(body, &exc, KeyRemoteException)
	if err != nil || !found {
		return nil
	}
	return &exc
}
