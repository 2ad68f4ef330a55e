package util

import (
	"encoding/binary"
	"hash/crc32"
)

// Checksum helpers for verifying what a transfer wrote.
// Uses CRC32 (IEEE polynomial).

var (
	crc32Table = crc32.MakeTable(crc32.IEEE)
)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// UpdateChecksum folds data into a running checksum
func UpdateChecksum(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32Table, data)
}

// Digest is an order-sensitive running checksum over a sequence of fields.
// Each field is length-prefixed so that ("ab", "c") and ("a", "bc") differ.
// The zero value is ready to use.
type Digest struct {
	crc    uint32
	fields uint64
}

// Write folds the given fields into the digest
func (d *Digest) Write(fields ...[]byte) {
	var prefix [4]byte
	for _, f := range fields {
		binary.BigEndian.PutUint32(prefix[:], uint32(len(f)))
		d.crc = UpdateChecksum(d.crc, prefix[:])
		d.crc = UpdateChecksum(d.crc, f)
		d.fields++
	}
}

// Sum32 returns the current checksum
func (d *Digest) Sum32() uint32 {
	return d.crc
}

// Fields returns how many fields were written
func (d *Digest) Fields() uint64 {
	return d.fields
}
