// Package cmd holds the HCI commands the ACL core issues. Structs marshal
// little-endian in field order; multi-byte addresses are already expected in
// wire order by the time they land here.
package cmd

import (
	"bytes"
	"encoding/binary"
	"io"
)

func marshal(c interface{}, b []byte, n int) error {
	buf := bytes.NewBuffer(b)
	buf.Reset()
	if buf.Cap() < n {
		return io.ErrShortBuffer
	}
	return binary.Write(buf, binary.LittleEndian, c)
}

func unmarshal(c interface{}, b []byte) error {
	buf := bytes.NewBuffer(b)
	return binary.Read(buf, binary.LittleEndian, c)
}
