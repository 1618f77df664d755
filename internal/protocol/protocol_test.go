package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDelete(t *testing.T) {
	for event, want := range map[string]bool{
		"deleted":             true,
		"reservation.deleted": true,
		"DELETE":              true,
		"removed":             true,
		"updated":             false,
		"created":             false,
		"":                    false,
	} {
		assert.Equal(t, want, IsDelete(event), event)
	}
}

func TestIsClear(t *testing.T) {
	assert.True(t, IsClear("clear"))
	assert.True(t, IsClear("Stop"))
	assert.True(t, IsClear("end"))
	assert.False(t, IsClear("start"))
}

func TestDecodeChanged(t *testing.T) {
	m, err := Decode([]byte(`{"type":"reservation.changed","reservation_id":"42","event":"updated","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChanged, m.Type)
	assert.Equal(t, "42", m.ReservationID)
	assert.Nil(t, m.Draft)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeOmitsEmpty(t *testing.T) {
	b, err := Encode(Message{Type: TypeJoin, UserID: "ana", ReservationID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reservation.join","user_id":"ana","reservation_id":"r1"}`, string(b))
}
