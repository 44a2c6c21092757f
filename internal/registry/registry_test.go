package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavataste/sensord/internal/sensortype"
)

type fakeHandler struct {
	uri string
	typ sensortype.Type
}

func (f fakeHandler) URI() string             { return f.uri }
func (f fakeHandler) Type() sensortype.Type   { return f.typ }

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	r := New()
	h := fakeHandler{uri: "accelerometer.0", typ: sensortype.Accelerometer}
	require.NoError(t, r.Register(h))

	assert.True(t, r.Has("accelerometer.0"))
	assert.Equal(t, h, r.Get("accelerometer.0"))

	r.Unregister("accelerometer.0")
	assert.False(t, r.Has("accelerometer.0"))
	assert.Nil(t, r.Get("accelerometer.0"))
}

func TestRegistry_RegisterDuplicateURIFails(t *testing.T) {
	r := New()
	h1 := fakeHandler{uri: "gyroscope.0", typ: sensortype.Gyroscope}
	h2 := fakeHandler{uri: "gyroscope.0", typ: sensortype.Gyroscope}
	require.NoError(t, r.Register(h1))
	err := r.Register(h2)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistry_ByType(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeHandler{uri: "accelerometer.0", typ: sensortype.Accelerometer}))
	require.NoError(t, r.Register(fakeHandler{uri: "accelerometer.1", typ: sensortype.Accelerometer}))
	require.NoError(t, r.Register(fakeHandler{uri: "gyroscope.0", typ: sensortype.Gyroscope}))

	accels := r.ByType(sensortype.Accelerometer)
	assert.Len(t, accels, 2)

	all := r.All()
	assert.Len(t, all, 3)
}
