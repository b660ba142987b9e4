package kv

import (
	"bytes"
	"strconv"
)

const sep = 0x00

// Key joins parts into a composite key. Every part, including the last, is
// terminated by a separator byte so that Key("a", "1") is never a prefix of
// Key("a", "10").
func Key(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
		out = append(out, sep)
	}
	return out
}

// Num renders n zero-padded so numeric parts sort in numeric order.
func Num(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) >= 20 {
		return s
	}
	return string(bytes.Repeat([]byte{'0'}, 20-len(s))) + s
}

// Parts splits a key produced by Key back into its parts.
func Parts(key []byte) []string {
	key = bytes.TrimSuffix(key, []byte{sep})
	if len(key) == 0 {
		return nil
	}
	raw := bytes.Split(key, []byte{sep})
	out := make([]string, len(raw))
	for i, p := range raw {
		out[i] = string(p)
	}
	return out
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
