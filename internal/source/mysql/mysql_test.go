package mysql

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/stretchr/testify/require"

	"github.com/estuary/cdc-relay/internal/event"
)

func TestStartGTIDSetEmptyPositionResumesFromHead(t *testing.T) {
	s := New(Config{})
	set, err := s.startGTIDSet()
	require.NoError(t, err)
	require.Nil(t, set)
}

func TestStartGTIDSetParsesUUIDAndTransactionNumber(t *testing.T) {
	s := New(Config{})
	s.SetStartPosition(event.Position("3e11fa47-71ca-11e1-9e33-c80aa9429562:23"))

	set, err := s.startGTIDSet()
	require.NoError(t, err)
	require.NotNil(t, set)
	require.Contains(t, set.String(), "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-23")
}

func TestStartGTIDSetRejectsMalformedPosition(t *testing.T) {
	s := New(Config{})
	s.SetStartPosition(event.Position("not-a-gtid"))
	_, err := s.startGTIDSet()
	require.Error(t, err)
}

func TestRowEventTypeMapping(t *testing.T) {
	cases := []struct {
		in   replication.EventType
		want event.Type
	}{
		{replication.WRITE_ROWS_EVENTv2, event.Insert},
		{replication.UPDATE_ROWS_EVENTv2, event.Update},
		{replication.DELETE_ROWS_EVENTv2, event.Delete},
	}
	for _, c := range cases {
		got, ok := rowEventType(c.in)
		require.True(t, ok)
		require.Equal(t, c.want, got)
	}

	_, ok := rowEventType(replication.QUERY_EVENT)
	require.False(t, ok)
}

func TestUUIDStringRejectsWrongLength(t *testing.T) {
	_, err := uuidString([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestUUIDStringFormatsCanonicalForm(t *testing.T) {
	sid := []byte{0x3e, 0x11, 0xfa, 0x47, 0x71, 0xca, 0x11, 0xe1, 0x9e, 0x33, 0xc8, 0x0a, 0xa9, 0x42, 0x95, 0x62}
	got, err := uuidString(sid)
	require.NoError(t, err)
	require.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562", got)
}

func TestIsServerIDCollisionDetectsMessage(t *testing.T) {
	require.True(t, isServerIDCollision(errorf("A slave with the same server_uuid/server_id as this slave has connected")))
	require.False(t, isServerIDCollision(errorf("connection refused")))
}

func TestPerturbServerIDAlwaysChanges(t *testing.T) {
	for i := 0; i < 20; i++ {
		require.NotEqual(t, uint32(7), perturbServerID(7))
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

func errorf(s string) error { return testErr(s) }
