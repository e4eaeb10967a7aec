// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/StagsGit/td/errors"
)

// crcTable is the same IEEE polynomial table recordio uses for its
// chunk checksums.
var crcTable = crc32.MakeTable(crc32.IEEE)

const (
	frameHeaderSize  = 4 + 8 + 4 + 4 // length + id + type + flags
	frameTrailerSize = 4             // crc32
	frameOverhead    = frameHeaderSize + frameTrailerSize
)

// encodeFrame renders id, typ, flags, and data as the on-disk frame
// described in the file format table: a little-endian length prefix
// (including itself), an 8-byte id, a 4-byte type, a 4-byte flags
// word, the payload, and a trailing CRC32 over everything before it.
func encodeFrame(id uint64, typ int32, flags Flags, data []byte) []byte {
	total := frameOverhead + len(data)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint64(buf[4:12], id)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(typ))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(flags))
	copy(buf[20:20+len(data)], data)
	crc := crc32.Checksum(buf[:total-frameTrailerSize], crcTable)
	binary.LittleEndian.PutUint32(buf[total-4:total], crc)
	return buf
}

// decodeFrame parses a complete frame (raw must be exactly the number
// of bytes the length prefix declared) into an Event. Data and Raw are
// both copied out of raw, since raw is typically a slice into a
// reader's internal buffer that the next Feed call will overwrite.
func decodeFrame(raw []byte) (*Event, error) {
	if len(raw) < MinEventSize {
		return nil, errors.E(errors.Corruption, "frame shorter than MinEventSize")
	}
	total := len(raw)
	wantCRC := binary.LittleEndian.Uint32(raw[total-4:])
	gotCRC := crc32.Checksum(raw[:total-frameTrailerSize], crcTable)
	if wantCRC != gotCRC {
		return nil, errors.E(errors.Corruption, "frame checksum mismatch")
	}
	id := binary.LittleEndian.Uint64(raw[4:12])
	typ := int32(binary.LittleEndian.Uint32(raw[12:16]))
	flags := Flags(binary.LittleEndian.Uint32(raw[16:20]))
	data := append([]byte(nil), raw[20:total-frameTrailerSize]...)
	return &Event{
		ID:    id,
		Type:  typ,
		Flags: flags,
		Data:  data,
		Raw:   append([]byte(nil), raw...),
	}, nil
}
