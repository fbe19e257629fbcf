package programmer

import (
	"bufio"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Intel HEX record types.
const (
	recordData         = 0x00
	recordEOF          = 0x01
	recordExtSegment   = 0x02
	recordStartSegment = 0x03
	recordExtLinear    = 0x04
	recordStartLinear  = 0x05
)

var ErrInvalidHex = errors.New("invalid Intel HEX")

// HexInfo summarises a valid Intel HEX image.
type HexInfo struct {
	Records   int
	DataBytes int
	// End is one past the highest data address.
	End uint32
}

// ValidateHexFile validates the image at path.
func ValidateHexFile(path string) (HexInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return HexInfo{}, errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	info, err := ValidateHex(f)

	return info, errors.Wrap(err, path)
}

// ValidateHex checks the syntax and checksum of every record and requires a final
// EOF record.
func ValidateHex(r io.Reader) (HexInfo, error) {
	var (
		info HexInfo
		base uint32
		eof  bool
		line int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if eof {
			return info, errors.Wrapf(ErrInvalidHex, "line %d: record after EOF", line)
		}
		if text[0] != ':' {
			return info, errors.Wrapf(ErrInvalidHex, "line %d: missing start code", line)
		}
		raw, err := hex.DecodeString(text[1:])
		if err != nil {
			return info, errors.Wrapf(ErrInvalidHex, "line %d: %v", line, err)
		}
		if len(raw) < 5 || len(raw) != int(raw[0])+5 {
			return info, errors.Wrapf(ErrInvalidHex, "line %d: bad record length", line)
		}
		var sum byte
		for _, b := range raw {
			sum += b
		}
		if sum != 0 {
			return info, errors.Wrapf(ErrInvalidHex, "line %d: checksum mismatch", line)
		}

		info.Records++
		count := uint32(raw[0])
		addr := uint32(raw[1])<<8 | uint32(raw[2])
		data := raw[4 : 4+count]
		switch raw[3] {
		case recordData:
			info.DataBytes += int(count)
			if end := base + addr + count; end > info.End {
				info.End = end
			}
		case recordEOF:
			eof = true
		case recordExtSegment:
			if count != 2 {
				return info, errors.Wrapf(ErrInvalidHex, "line %d: bad segment record", line)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 4
		case recordExtLinear:
			if count != 2 {
				return info, errors.Wrapf(ErrInvalidHex, "line %d: bad linear record", line)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 16
		case recordStartSegment, recordStartLinear:
		default:
			return info, errors.Wrapf(ErrInvalidHex, "line %d: unknown record type %02X", line, raw[3])
		}
	}
	if err := sc.Err(); err != nil {
		return info, errors.Wrap(err, "unable to read hex")
	}
	if !eof {
		return info, errors.Wrap(ErrInvalidHex, "missing EOF record")
	}

	return info, nil
}
