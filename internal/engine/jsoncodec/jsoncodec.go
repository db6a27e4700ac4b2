// Package jsoncodec centralizes JSON encoding for the engine. Notification
// payloads, inspector responses and reply bodies all go through here so the
// whole module shares one serializer configuration.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Raw returns the JSON encoding of v, or nil if v cannot be encoded.
// Callers on best-effort paths (notification fan-out, reply bodies) use it
// where a marshal failure must not interrupt event processing.
func Raw(v any) []byte {
	b, err := defaultConfig.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
