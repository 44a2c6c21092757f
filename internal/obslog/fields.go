package obslog

// Standard structured-log field names, kept as constants so call sites
// never drift on key spelling between packages.
const (
	FieldComponent = "component"
	FieldLevel     = "level"

	FieldSensorURI  = "sensor_uri"
	FieldSensorType = "sensor_type"
	FieldListenerID = "listener_id"
	FieldClientID   = "client_id"
	FieldChannelID  = "channel_id"
	FieldEventType  = "event_type"

	FieldInterval         = "interval_ms"
	FieldLatency          = "latency_ms"
	FieldWakeup           = "wakeup"
	FieldDowngradedWakeup = "downgraded_wakeup"
	FieldStarted          = "started"
	FieldClients          = "client_count"
	FieldPrevValue        = "prev_value"
	FieldCurValue         = "cur_value"

	FieldCommand = "command"
	FieldErrCode = "err_code"
	FieldErr     = "error"

	FieldPausePolicy = "pause_policy"
	FieldPlugin      = "plugin"
	FieldDuration    = "duration_ms"
)
