// Package eventcodec converts vehicle batches to and from the binary payload
// carried on the broker topic.
//
// Layout, all integers big endian:
//
//	uint32 record count
//	per record:
//	  uint32 len + line bytes
//	  uint32 len + vehicle ref bytes
//	  uint32 len + direction bytes
//	  float64 latitude
//	  float64 longitude
//	  int64 unix seconds
//
// A zero length string decodes as an absent field.
package eventcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/travigo/sytral-relay/pkg/ctdf"
)

// smallest possible encoded record: three empty strings plus three 8 byte values
const minRecordSize = 3*4 + 3*8

var (
	ErrTruncated     = errors.New("truncated payload")
	ErrTrailingBytes = errors.New("trailing bytes after last record")
	ErrInvalidUTF8   = errors.New("string field is not valid UTF-8")
	ErrRecordCount   = errors.New("record count exceeds payload size")
)

type CodecError struct {
	Offset int
	Field  string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("eventcodec: offset %d: %s", e.Offset, e.Err)
	}
	return fmt.Sprintf("eventcodec: offset %d (%s): %s", e.Offset, e.Field, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func Encode(batch ctdf.VehicleBatch) []byte {
	size := 4
	for _, vehicle := range batch {
		size += minRecordSize + refLen(vehicle.Line) + refLen(vehicle.VehicleRef) + refLen(vehicle.Direction)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(batch)))

	for _, vehicle := range batch {
		buf = appendString(buf, vehicle.Line)
		buf = appendString(buf, vehicle.VehicleRef)
		buf = appendString(buf, vehicle.Direction)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(vehicle.Latitude))
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(vehicle.Longitude))
		buf = binary.BigEndian.AppendUint64(buf, uint64(vehicle.Timestamp.Unix()))
	}

	return buf
}

func Decode(payload []byte) (ctdf.VehicleBatch, error) {
	r := reader{buf: payload}

	count, err := r.uint32("count")
	if err != nil {
		return nil, err
	}

	if uint64(count)*minRecordSize > uint64(r.remaining()) {
		return nil, &CodecError{Offset: 0, Field: "count", Err: ErrRecordCount}
	}

	batch := make(ctdf.VehicleBatch, 0, count)
	for i := uint32(0); i < count; i++ {
		var vehicle ctdf.Vehicle

		if vehicle.Line, err = r.string("line"); err != nil {
			return nil, err
		}
		if vehicle.VehicleRef, err = r.string("vehicle_ref"); err != nil {
			return nil, err
		}
		if vehicle.Direction, err = r.string("direction"); err != nil {
			return nil, err
		}

		latitude, err := r.uint64("latitude")
		if err != nil {
			return nil, err
		}
		longitude, err := r.uint64("longitude")
		if err != nil {
			return nil, err
		}
		timestamp, err := r.uint64("timestamp")
		if err != nil {
			return nil, err
		}

		vehicle.Latitude = math.Float64frombits(latitude)
		vehicle.Longitude = math.Float64frombits(longitude)
		vehicle.Timestamp = time.Unix(int64(timestamp), 0).UTC()

		batch = append(batch, vehicle)
	}

	if r.remaining() != 0 {
		return nil, &CodecError{Offset: r.offset, Err: ErrTrailingBytes}
	}

	return batch, nil
}

func refLen(ref *string) int {
	if ref == nil {
		return 0
	}
	return len(*ref)
}

func appendString(buf []byte, ref *string) []byte {
	if ref == nil {
		return binary.BigEndian.AppendUint32(buf, 0)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(*ref)))
	return append(buf, *ref...)
}

type reader struct {
	buf    []byte
	offset int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.offset
}

func (r *reader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, &CodecError{Offset: r.offset, Field: field, Err: ErrTruncated}
	}

	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) uint32(field string) (uint32, error) {
	b, err := r.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64(field string) (uint64, error) {
	b, err := r.take(8, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) string(field string) (*string, error) {
	start := r.offset

	length, err := r.uint32(field)
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(r.remaining()) {
		return nil, &CodecError{Offset: start, Field: field, Err: ErrTruncated}
	}

	b, err := r.take(int(length), field)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, &CodecError{Offset: start, Field: field, Err: ErrInvalidUTF8}
	}
	if len(b) == 0 {
		return nil, nil
	}

	value := string(b)
	return &value, nil
}
