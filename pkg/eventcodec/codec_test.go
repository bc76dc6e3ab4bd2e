package eventcodec

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

func sampleBatch() ctdf.VehicleBatch {
	recorded := time.Date(2025, 7, 30, 9, 0, 31, 0, time.UTC)

	return ctdf.VehicleBatch{
		{
			Line:       ctdf.StringRef("ACTIS:Line::C3:SYTRAL"),
			VehicleRef: ctdf.StringRef("TCL:Vehicle::1802:LOC"),
			Direction:  ctdf.StringRef("Aller"),
			Latitude:   45.7640,
			Longitude:  4.8357,
			Timestamp:  recorded,
		},
		{
			Line:      ctdf.StringRef("T1"),
			Latitude:  45.7485,
			Longitude: 4.8467,
			Timestamp: recorded.Add(2 * time.Second),
		},
		{
			VehicleRef: ctdf.StringRef("métro-A"),
			Latitude:   -0.0,
			Longitude:  180,
			Timestamp:  time.Unix(0, 0).UTC(),
		},
	}
}

func TestRoundTrip(t *testing.T) {
	batch := sampleBatch()

	decoded, err := Decode(Encode(batch))
	require.NoError(t, err)
	assert.Equal(t, batch, decoded)
}

func TestRoundTripEmptyBatch(t *testing.T) {
	payload := Encode(ctdf.VehicleBatch{})
	assert.Len(t, payload, 4)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestEmptyStringDecodesAbsent(t *testing.T) {
	batch := ctdf.VehicleBatch{{
		Line:      new(string),
		Latitude:  1,
		Longitude: 2,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}}

	decoded, err := Decode(Encode(batch))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Nil(t, decoded[0].Line)
	assert.Equal(t, batch.Normalise(), decoded)
}

func TestDecodeTruncatedNeverPanics(t *testing.T) {
	payload := Encode(sampleBatch())

	for i := 0; i < len(payload); i++ {
		_, err := Decode(payload[:i])
		require.Error(t, err, "prefix of %d bytes should not decode", i)

		var codecErr *CodecError
		assert.ErrorAs(t, err, &codecErr)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	payload := append(Encode(sampleBatch()), 0x00)

	_, err := Decode(payload)
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeCountTooLarge(t *testing.T) {
	payload := binary.BigEndian.AppendUint32(nil, 0xFFFFFFFF)
	payload = append(payload, make([]byte, 64)...)

	_, err := Decode(payload)
	assert.ErrorIs(t, err, ErrRecordCount)
}

func TestDecodeStringLengthOverflow(t *testing.T) {
	payload := Encode(sampleBatch())
	// first record's line length
	binary.BigEndian.PutUint32(payload[4:8], 0xFFFFFFF0)

	_, err := Decode(payload)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeInvalidUTF8(t *testing.T) {
	batch := ctdf.VehicleBatch{{
		Line:      ctdf.StringRef("ok"),
		Timestamp: time.Unix(0, 0).UTC(),
	}}
	payload := Encode(batch)
	// corrupt the first byte of "ok"
	payload[8] = 0xFF

	_, err := Decode(payload)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestDecodeCorruptedBytesNeverPanics(t *testing.T) {
	payload := Encode(sampleBatch())

	for i := range payload {
		corrupted := append([]byte(nil), payload...)
		corrupted[i] ^= 0xA5

		assert.NotPanics(t, func() {
			_, _ = Decode(corrupted)
		})
	}
}
