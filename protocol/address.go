package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ParseShortAddr accepts "0x1A2B", "1A2B" or a decimal value.
func ParseShortAddr(s string) (ShortAddr, error) {
	v, err := parseHexOrDec(s, 16)
	if err != nil {
		return ShortAddr{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	a := ShortAddrFromUint16(uint16(v))
	if a.IsBroadcast() {
		return ShortAddr{}, fmt.Errorf("%w: %q is the broadcast address", ErrInvalidAddress, s)
	}
	return a, nil
}

// ParseEUI64 accepts the 16 hex digit form printed by EUI64.String.
func ParseEUI64(s string) (EUI64, error) {
	v, err := parseHexOrDec(s, 64)
	if err != nil {
		return EUI64{}, fmt.Errorf("%w: EUI-64 %q: %v", ErrInvalidAddress, s, err)
	}
	var e EUI64
	binary.LittleEndian.PutUint64(e[:], v)
	return e, nil
}

func parseHexOrDec(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return strconv.ParseUint(s[2:], 16, bits)
	case strings.ContainsAny(s, "abcdefABCDEF") || len(s) == bits/4:
		return strconv.ParseUint(s, 16, bits)
	}
	return strconv.ParseUint(s, 10, bits)
}

func (a ShortAddr) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (e EUI64) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText accepts any form ParseShortAddr does, broadcast included.
func (a *ShortAddr) UnmarshalText(b []byte) error {
	v, err := parseHexOrDec(string(b), 16)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, b, err)
	}
	*a = ShortAddrFromUint16(uint16(v))
	return nil
}

func (e *EUI64) UnmarshalText(b []byte) error {
	v, err := ParseEUI64(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}
