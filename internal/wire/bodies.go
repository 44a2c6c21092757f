package wire

// MaxEventValues bounds a SensorEvent's value vector, above the
// widest fusion output (the 9-axis EKF's quaternion + bias, 7 values).
const MaxEventValues = 16

// SensorInfo describes one entry in the CmdSensorList reply: the
// static facts about a handler a client needs before it can connect,
// drawn from the handler's device manifest (§3, §9).
type SensorInfo struct {
	URI             string
	Type            uint32
	Vendor          string
	Name            string
	MinRangeX1000   int64 // range values fixed-point at 3 decimals to avoid float drift on the wire
	MaxRangeX1000   int64
	ResolutionX1000 int64
	MinIntervalMS   int32
	FIFOCount       int32
	MaxBatchCount   int32
	WakeupSupported bool
	Privilege       string
}

func (s SensorInfo) encodeBody(w *byteWriter) {
	w.putString(s.URI)
	w.putUint32(s.Type)
	w.putString(s.Vendor)
	w.putString(s.Name)
	w.putInt64(s.MinRangeX1000)
	w.putInt64(s.MaxRangeX1000)
	w.putInt64(s.ResolutionX1000)
	w.putInt32(s.MinIntervalMS)
	w.putInt32(s.FIFOCount)
	w.putInt32(s.MaxBatchCount)
	w.putBool(s.WakeupSupported)
	w.putString(s.Privilege)
}

func decodeSensorInfo(r *byteReader) (SensorInfo, error) {
	var s SensorInfo
	var err error
	if s.URI, err = r.string(); err != nil {
		return s, err
	}
	if s.Type, err = r.uint32(); err != nil {
		return s, err
	}
	if s.Vendor, err = r.string(); err != nil {
		return s, err
	}
	if s.Name, err = r.string(); err != nil {
		return s, err
	}
	if s.MinRangeX1000, err = r.int64(); err != nil {
		return s, err
	}
	if s.MaxRangeX1000, err = r.int64(); err != nil {
		return s, err
	}
	if s.ResolutionX1000, err = r.int64(); err != nil {
		return s, err
	}
	if s.MinIntervalMS, err = r.int32(); err != nil {
		return s, err
	}
	if s.FIFOCount, err = r.int32(); err != nil {
		return s, err
	}
	if s.MaxBatchCount, err = r.int32(); err != nil {
		return s, err
	}
	if s.WakeupSupported, err = r.boolean(); err != nil {
		return s, err
	}
	s.Privilege, err = r.string()
	return s, err
}

// SensorListBody is CmdSensorList's reply payload.
type SensorListBody struct {
	Sensors []SensorInfo
}

func (b SensorListBody) Encode() []byte {
	w := &byteWriter{}
	w.putUint32(uint32(len(b.Sensors)))
	for _, s := range b.Sensors {
		s.encodeBody(w)
	}
	return w.bytes()
}

func DecodeSensorListBody(buf []byte) (SensorListBody, error) {
	r := newByteReader(buf)
	n, err := r.uint32()
	if err != nil {
		return SensorListBody{}, err
	}
	sensors := make([]SensorInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := decodeSensorInfo(r)
		if err != nil {
			return SensorListBody{}, err
		}
		sensors = append(sensors, s)
	}
	return SensorListBody{Sensors: sensors}, nil
}

// ListenerConnectBody requests a listener proxy for URI (§4.G).
type ListenerConnectBody struct {
	URI string
}

func (b ListenerConnectBody) Encode() []byte {
	w := &byteWriter{}
	w.putString(b.URI)
	return w.bytes()
}

func DecodeListenerConnectBody(buf []byte) (ListenerConnectBody, error) {
	r := newByteReader(buf)
	uri, err := r.string()
	return ListenerConnectBody{URI: uri}, err
}

// ListenerDisconnectBody and ListenerStartBody/ListenerStopBody carry
// only the listener id, which travels in Header.ID, so their bodies
// are empty; they exist as named types for call-site clarity.
type ListenerDisconnectBody struct{}
type ListenerStartBody struct{}
type ListenerStopBody struct{}

// ListenerSetAttrIntBody sets an integer arbitration attribute —
// interval, latency, or wakeup-on — per §4.D.
type ListenerSetAttrIntBody struct {
	Attr  string
	Value int64
}

func (b ListenerSetAttrIntBody) Encode() []byte {
	w := &byteWriter{}
	w.putString(b.Attr)
	w.putInt64(b.Value)
	return w.bytes()
}

func DecodeListenerSetAttrIntBody(buf []byte) (ListenerSetAttrIntBody, error) {
	r := newByteReader(buf)
	var b ListenerSetAttrIntBody
	var err error
	if b.Attr, err = r.string(); err != nil {
		return b, err
	}
	b.Value, err = r.int64()
	return b, err
}

// SetAttrReplyBody carries non-fatal annotations about how a
// set-attribute request was actually applied. Currently only used for
// the wakeup attribute: a wakeup request against a non-wakeup-capable
// sensor is accepted (err=0) but silently downgraded to non-wakeup
// (§4.D edge case 4), and DowngradedWakeup is how that downgrade is
// surfaced back to the caller instead of only in a server-side log.
type SetAttrReplyBody struct {
	DowngradedWakeup bool
}

func (b SetAttrReplyBody) Encode() []byte {
	w := &byteWriter{}
	w.putBool(b.DowngradedWakeup)
	return w.bytes()
}

func DecodeSetAttrReplyBody(buf []byte) (SetAttrReplyBody, error) {
	r := newByteReader(buf)
	var b SetAttrReplyBody
	var err error
	b.DowngradedWakeup, err = r.boolean()
	return b, err
}

// ListenerSetAttrStrBody sets a string attribute, e.g. display
// orientation for axis rotation (§4.G).
type ListenerSetAttrStrBody struct {
	Attr  string
	Value string
}

func (b ListenerSetAttrStrBody) Encode() []byte {
	w := &byteWriter{}
	w.putString(b.Attr)
	w.putString(b.Value)
	return w.bytes()
}

func DecodeListenerSetAttrStrBody(buf []byte) (ListenerSetAttrStrBody, error) {
	r := newByteReader(buf)
	var b ListenerSetAttrStrBody
	var err error
	if b.Attr, err = r.string(); err != nil {
		return b, err
	}
	b.Value, err = r.string()
	return b, err
}

// SensorEvent is the payload of CmdListenerEvent/CmdProviderPostEvent:
// one timestamped sample (§6, §9).
type SensorEvent struct {
	EventType   uint32
	TimestampUS int64
	Accuracy    int32
	Values      []float32
}

func (e SensorEvent) Encode() []byte {
	w := &byteWriter{}
	w.putUint32(e.EventType)
	w.putInt64(e.TimestampUS)
	w.putInt32(e.Accuracy)
	n := len(e.Values)
	if n > MaxEventValues {
		n = MaxEventValues
	}
	w.putUint32(uint32(n))
	for i := 0; i < n; i++ {
		w.putFloat32(e.Values[i])
	}
	return w.bytes()
}

func DecodeSensorEvent(buf []byte) (SensorEvent, error) {
	r := newByteReader(buf)
	var e SensorEvent
	var err error
	if e.EventType, err = r.uint32(); err != nil {
		return e, err
	}
	if e.TimestampUS, err = r.int64(); err != nil {
		return e, err
	}
	if e.Accuracy, err = r.int32(); err != nil {
		return e, err
	}
	n, err := r.uint32()
	if err != nil {
		return e, err
	}
	e.Values = make([]float32, n)
	for i := range e.Values {
		if e.Values[i], err = r.float32(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// AccuracyEventBody is CmdListenerAccuracyEvent's payload: an
// accuracy-only change notification sent independently of the data
// stream so a listener isn't forced into RawData to learn it (§4.G).
type AccuracyEventBody struct {
	Accuracy    int32
	TimestampUS int64
}

func (b AccuracyEventBody) Encode() []byte {
	w := &byteWriter{}
	w.putInt32(b.Accuracy)
	w.putInt64(b.TimestampUS)
	return w.bytes()
}

func DecodeAccuracyEventBody(buf []byte) (AccuracyEventBody, error) {
	r := newByteReader(buf)
	var b AccuracyEventBody
	var err error
	if b.Accuracy, err = r.int32(); err != nil {
		return b, err
	}
	b.TimestampUS, err = r.int64()
	return b, err
}

// HasPrivilegeBody queries whether the channel holds privilege on a
// named capability (§4.J).
type HasPrivilegeBody struct {
	Privilege string
}

func (b HasPrivilegeBody) Encode() []byte {
	w := &byteWriter{}
	w.putString(b.Privilege)
	return w.bytes()
}

func DecodeHasPrivilegeBody(buf []byte) (HasPrivilegeBody, error) {
	r := newByteReader(buf)
	priv, err := r.string()
	return HasPrivilegeBody{Privilege: priv}, err
}

// HasPrivilegeReply is the boolean answer to HasPrivilegeBody.
type HasPrivilegeReply struct {
	Granted bool
}

func (b HasPrivilegeReply) Encode() []byte {
	w := &byteWriter{}
	w.putBool(b.Granted)
	return w.bytes()
}

func DecodeHasPrivilegeReply(buf []byte) (HasPrivilegeReply, error) {
	r := newByteReader(buf)
	v, err := r.boolean()
	return HasPrivilegeReply{Granted: v}, err
}

// ProviderConnectBody claims the already-registered provider slot at
// URI for the sending channel, whose PROVIDER_POST_EVENT samples then
// feed that sensor (internal/pluginhost).
type ProviderConnectBody struct {
	URI string
}

func (b ProviderConnectBody) Encode() []byte {
	w := &byteWriter{}
	w.putString(b.URI)
	return w.bytes()
}

func DecodeProviderConnectBody(buf []byte) (ProviderConnectBody, error) {
	r := newByteReader(buf)
	uri, err := r.string()
	return ProviderConnectBody{URI: uri}, err
}

type ProviderDisconnectBody struct{}
