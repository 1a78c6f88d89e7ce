package transfer

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhalter/mobius/hotline"

	"github.com/hotline-go/xfercore/internal/resourcefork"
)

// ForkTypeINFO is sourced from the ecosystem Hotline library's own fork-type
// table (the same one the teacher client's createInfoFork uses to build its
// FlatFileForkHeader) rather than a hand-rolled literal. ForkTypeDATA and
// ForkTypeMACR stay literal constants: the library exposes no equivalent for
// either, and the teacher's own upload path hand-rolls those two fork tags
// the same way (file_transfer.go's copy(dataForkHeader[0:4], "DATA") /
// copy(resForkHeader[0:4], "MACR")).
var ForkTypeINFO = binary.BigEndian.Uint32(hotline.ForkTypeINFO[:])

// Fork type codes (§6).
const (
	ForkTypeDATA uint32 = 0x44415441 // "DATA"
	ForkTypeMACR uint32 = 0x4D414352 // "MACR"
)

const (
	fileHeaderSignature = "FILP"
	fileHeaderVersion   = uint16(1)
	fileHeaderSize      = 4 + 2 + 16 + 2 // signature, version, reserved, forkCount
	forkHeaderSize      = 4 + 4 + 4 + 4  // type, compression, reserved, dataSize

	// commentLenGuardPattern is the high two bytes of "DATA" (0x44415441):
	// a known server bug reports the wrong info-fork dataSize, so a
	// would-be comment length that matches these bytes is actually the
	// start of the next fork header (§3, §8).
	commentLenGuardPattern = 0x4441

	// macEpochOffsetSeconds is the number of seconds between the classic
	// Mac OS / HFS epoch (1904-01-01T00:00:00Z) and the Unix epoch. The
	// info fork's 64-bit timestamps use the Mac epoch. Encoding goes
	// through hotline.NewTime (below); this constant remains only for
	// TimeFromWire's decode direction, which the library has no
	// counterpart for since the teacher's own client never parses an
	// incoming info fork's timestamp (it discards the whole fork via
	// io.CopyN(io.Discard, ...) on download).
	macEpochOffsetSeconds = 2082844800
)

// FileHeader is the wire "FILP" header (§3, §6).
type FileHeader struct {
	ForkCount uint16
}

// EncodeFileHeader serializes a FileHeader the client emits when acting as
// a sender (upload / folder upload).
func EncodeFileHeader(forkCount uint16) []byte {
	b := make([]byte, fileHeaderSize)
	copy(b[0:4], fileHeaderSignature)
	binary.BigEndian.PutUint16(b[4:6], fileHeaderVersion)
	binary.BigEndian.PutUint16(b[22:24], forkCount)
	return b
}

// DecodeFileHeader parses a received FileHeader. A server may emit a
// version other than 1, which this decoder accepts tolerantly, but the
// signature must match.
func DecodeFileHeader(b []byte) (FileHeader, error) {
	if len(b) != fileHeaderSize {
		return FileHeader{}, newError(ErrKindDecodeFailed, fmt.Errorf("file header: want %d bytes, got %d", fileHeaderSize, len(b)))
	}
	if string(b[0:4]) != fileHeaderSignature {
		return FileHeader{}, newError(ErrKindDecodeFailed, fmt.Errorf("file header: bad signature %q", b[0:4]))
	}
	return FileHeader{ForkCount: binary.BigEndian.Uint16(b[22:24])}, nil
}

// ForkHeader is the wire fork header preceding every fork's payload.
type ForkHeader struct {
	ForkType uint32
	DataSize uint32
}

// EncodeForkHeader serializes a ForkHeader. CompressionType is always 0
// (§1 Non-goals).
func EncodeForkHeader(forkType uint32, dataSize uint32) []byte {
	b := make([]byte, forkHeaderSize)
	binary.BigEndian.PutUint32(b[0:4], forkType)
	binary.BigEndian.PutUint32(b[12:16], dataSize)
	return b
}

// DecodeForkHeader parses a received ForkHeader.
func DecodeForkHeader(b []byte) (ForkHeader, error) {
	if len(b) != forkHeaderSize {
		return ForkHeader{}, newError(ErrKindDecodeFailed, fmt.Errorf("fork header: want %d bytes, got %d", forkHeaderSize, len(b)))
	}
	return ForkHeader{
		ForkType: binary.BigEndian.Uint32(b[0:4]),
		DataSize: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// InfoFork carries the file-system metadata the INFO fork transmits.
type InfoFork struct {
	Platform      uint32
	Type          uint32
	Creator       uint32
	Flags         uint32
	PlatformFlags uint32
	Created       time.Time
	Modified      time.Time
	NameScript    uint16
	Name          string
	Comment       string
	HasComment    bool
}

// nameEncoding is the single-byte platform encoding used for names and
// comments on the wire, with UTF-8 as the encode-side fallback for
// characters it cannot represent (§4.3, §9).
var nameEncoding encoding.Encoding = charmap.Macintosh

func encodeWireString(s string) []byte {
	if b, err := nameEncoding.NewEncoder().Bytes([]byte(s)); err == nil {
		return b
	}
	return []byte(s)
}

func decodeWireString(b []byte) string {
	if out, err := nameEncoding.NewDecoder().Bytes(b); err == nil {
		return string(out)
	}
	return string(b)
}

// NewTime converts a time.Time to the wire's 64-bit Mac-epoch seconds,
// delegating the actual epoch conversion to hotline.NewTime, the same
// function the teacher's createInfoFork calls when building its upload
// info fork.
func NewTime(t time.Time) uint64 {
	wire := hotline.NewTime(t)
	return binary.BigEndian.Uint64(wire[:])
}

// TimeFromWire converts the wire's 64-bit Mac-epoch seconds back to a
// time.Time.
func TimeFromWire(v uint64) time.Time {
	return time.Unix(int64(v)-macEpochOffsetSeconds, 0).UTC()
}

// fileTypeForName maps a local file name to its Hotline creator/type OSType
// codes through the ecosystem library's own extension table, the same
// lookup the teacher's createInfoFork runs before building an upload's info
// fork. Unrecognized extensions resolve to the table's own "????" fallback,
// matching §4.3's "fallback to 0 only when absent" by way of the library's
// existing default rather than a hand-rolled duplicate of its table.
func fileTypeForName(name string) (typeCode, creatorCode uint32) {
	ft := hotline.FileTypeFromFilename(name)
	return binary.BigEndian.Uint32(ft.TypeCode[:]), binary.BigEndian.Uint32(ft.CreatorCode[:])
}

// EncodeInfoFork serializes the fields (§3) into the fork's payload bytes,
// NOT including the preceding ForkHeader.
func EncodeInfoFork(f InfoFork) []byte {
	nameBytes := encodeWireString(f.Name)

	created := f.Created
	if created.IsZero() {
		created = time.Now()
	}
	modified := f.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	fixed := make([]byte, 4*5+32+8+8+2+2)
	binary.BigEndian.PutUint32(fixed[0:4], f.Platform)
	binary.BigEndian.PutUint32(fixed[4:8], f.Type)
	binary.BigEndian.PutUint32(fixed[8:12], f.Creator)
	binary.BigEndian.PutUint32(fixed[12:16], f.Flags)
	binary.BigEndian.PutUint32(fixed[16:20], f.PlatformFlags)
	// fixed[20:52] reserved, left zero
	binary.BigEndian.PutUint64(fixed[52:60], NewTime(created))
	binary.BigEndian.PutUint64(fixed[60:68], NewTime(modified))
	binary.BigEndian.PutUint16(fixed[68:70], f.NameScript)
	binary.BigEndian.PutUint16(fixed[70:72], uint16(len(nameBytes)))

	out := append(fixed, nameBytes...)

	if f.HasComment {
		commentBytes := encodeWireString(f.Comment)
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(commentBytes)))
		out = append(out, lenBuf...)
		out = append(out, commentBytes...)
	}
	return out
}

// DecodedInfoFork additionally reports how many bytes of the supplied
// buffer the decoder consumed (headerSize in spec terms), so a caller
// reading directly off the wire knows where the fork payload ends.
type DecodedInfoFork struct {
	InfoFork
	Consumed int
}

// DecodeInfoFork parses an info-fork payload, applying the comment-length
// corruption guard described in §3/§8: when the would-be comment length
// equals the high two bytes of "DATA" (0x4441), a known server bug has
// mis-reported the fork's dataSize and what follows the name is actually
// the next fork header, not a comment. In that case the comment is
// treated as absent and those two bytes are left unconsumed.
func DecodeInfoFork(b []byte) (DecodedInfoFork, error) {
	const fixedLen = 4*5 + 32 + 8 + 8 + 2 + 2
	if len(b) < fixedLen {
		return DecodedInfoFork{}, newError(ErrKindDecodeFailed, fmt.Errorf("info fork: buffer too short for fixed header (%d bytes)", len(b)))
	}

	f := InfoFork{
		Platform:      binary.BigEndian.Uint32(b[0:4]),
		Type:          binary.BigEndian.Uint32(b[4:8]),
		Creator:       binary.BigEndian.Uint32(b[8:12]),
		Flags:         binary.BigEndian.Uint32(b[12:16]),
		PlatformFlags: binary.BigEndian.Uint32(b[16:20]),
	}
	f.Created = TimeFromWire(binary.BigEndian.Uint64(b[52:60]))
	f.Modified = TimeFromWire(binary.BigEndian.Uint64(b[60:68]))
	f.NameScript = binary.BigEndian.Uint16(b[68:70])
	nameLen := int(binary.BigEndian.Uint16(b[70:72]))

	pos := fixedLen
	if len(b) < pos+nameLen {
		return DecodedInfoFork{}, newError(ErrKindDecodeFailed, fmt.Errorf("info fork: buffer too short for name (%d bytes)", nameLen))
	}
	f.Name = decodeWireString(b[pos : pos+nameLen])
	pos += nameLen

	if len(b) < pos+2 {
		// No room left for even a comment-length field: comment absent.
		return DecodedInfoFork{InfoFork: f, Consumed: pos}, nil
	}

	commentLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
	if commentLen == commentLenGuardPattern {
		// Known-bug guard: what looks like a comment length is actually
		// "DA" from the next fork's "DATA" type code. Leave it unread.
		return DecodedInfoFork{InfoFork: f, Consumed: pos}, nil
	}

	pos += 2
	if len(b) < pos+commentLen {
		return DecodedInfoFork{}, newError(ErrKindDecodeFailed, fmt.Errorf("info fork: buffer too short for comment (%d bytes)", commentLen))
	}
	f.Comment = decodeWireString(b[pos : pos+commentLen])
	f.HasComment = true
	pos += commentLen

	return DecodedInfoFork{InfoFork: f, Consumed: pos}, nil
}

// ForkSizes reports the data-fork and resource-fork byte counts for a
// local file.
type ForkSizes struct {
	DataForkSize     int64
	ResourceForkSize int64
}

// ReadForkSizes stats a file's data fork and, where the platform exposes
// one, its resource fork (§4.3).
func ReadForkSizes(fsPath string) (ForkSizes, error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return ForkSizes{}, newError(ErrKindIO, err)
	}
	resSize, err := resourcefork.Size(fsPath)
	if err != nil {
		return ForkSizes{}, newError(ErrKindIO, err)
	}
	return ForkSizes{DataForkSize: info.Size(), ResourceForkSize: resSize}, nil
}

// FlattenedSize returns the sum of both forks plus the fixed per-fork
// header overhead a caller uses as the progress/upload total (§3
// "Flattened size").
func FlattenedSize(infoForkBytes int, sizes ForkSizes) int64 {
	total := int64(fileHeaderSize) + int64(forkHeaderSize) + int64(infoForkBytes)
	total += int64(forkHeaderSize) + sizes.DataForkSize
	if sizes.ResourceForkSize > 0 {
		total += int64(forkHeaderSize) + sizes.ResourceForkSize
	}
	return total
}
