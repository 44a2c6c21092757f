package config

import (
	"github.com/BurntSushi/toml"

	"github.com/lavataste/sensord/internal/errs"
	"github.com/lavataste/sensord/internal/sensor"
	"github.com/lavataste/sensord/internal/sensortype"
)

// DeviceEntry is one row of the static, closed-at-startup sensor
// device manifest (§1 Expansion: "the immutable hardware catalog").
// Driver names which built-in DeviceShim backs this entry; cmd/sensord
// is the only place that interprets it, since only it knows how to
// construct each concrete shim.
type DeviceEntry struct {
	URI             string `toml:"uri"`
	Type            string `toml:"type"`
	Driver          string `toml:"driver"`
	Vendor          string `toml:"vendor"`
	Name            string `toml:"name"`
	MinRangeX1000   int64  `toml:"min_range_x1000"`
	MaxRangeX1000   int64  `toml:"max_range_x1000"`
	ResolutionX1000 int64  `toml:"resolution_x1000"`
	MinIntervalMS   int32  `toml:"min_interval_ms"`
	FIFOCount       int32  `toml:"fifo_count"`
	MaxBatchCount   int32  `toml:"max_batch_count"`
	WakeupSupported bool   `toml:"wakeup_supported"`
	Privilege       string `toml:"privilege"`
}

// DeviceManifest is the decoded contents of the device manifest TOML
// file: one [[device]] table per physical or provider-backed slot.
type DeviceManifest struct {
	Devices []DeviceEntry `toml:"device"`
}

var typeNames = map[string]sensortype.Type{
	"accelerometer":          sensortype.Accelerometer,
	"gyroscope":              sensortype.Gyroscope,
	"geomagnetic":            sensortype.Geomagnetic,
	"proximity":              sensortype.Proximity,
	"pressure":               sensortype.Pressure,
	"temperature":            sensortype.Temperature,
	"light":                  sensortype.Light,
	"rotation_vector":        sensortype.RotationVector,
	"rv_raw":                 sensortype.RVRaw,
	"ultraviolet":            sensortype.Ultraviolet,
	"auto_rotation":          sensortype.AutoRotation,
	"gaming_rotation_vector": sensortype.GamingRotationVector,
	"geomagnetic_rotation_vector": sensortype.GeomagneticRotationVector,
	"gravity":                sensortype.Gravity,
	"linear_acceleration":    sensortype.LinearAcceleration,
	"orientation":            sensortype.Orientation,
	"tilt":                   sensortype.Tilt,
	"uncal_gyroscope":        sensortype.UncalibratedGyroscope,
	"hrm":                    sensortype.HeartRateMonitor,
	"fusion":                 sensortype.Fusion,
	"system_load":            sensortype.SystemLoad,
}

// ToInfo converts a manifest entry into the sensor.Info the matching
// Handler is constructed from. Returns an error for an unrecognized
// type name — a manifest typo a running daemon should refuse to start
// over, not silently register as sensortype.Unknown.
func (e DeviceEntry) ToInfo() (sensor.Info, error) {
	t, ok := typeNames[e.Type]
	if !ok {
		return sensor.Info{}, errs.Newf("config: device manifest entry %q has unknown type %q", e.URI, e.Type)
	}
	return sensor.Info{
		URI:             e.URI,
		Type:            t,
		Vendor:          e.Vendor,
		Name:            e.Name,
		MinRangeX1000:   e.MinRangeX1000,
		MaxRangeX1000:   e.MaxRangeX1000,
		ResolutionX1000: e.ResolutionX1000,
		MinIntervalMS:   e.MinIntervalMS,
		FIFOCount:       e.FIFOCount,
		MaxBatchCount:   e.MaxBatchCount,
		WakeupSupported: e.WakeupSupported,
		Privilege:       e.Privilege,
	}, nil
}

// LoadDeviceManifest decodes the device manifest at path. Unlike
// internal/pluginhost's plugins.toml, this is read once at daemon
// startup and never watched — §1's "closed-at-startup hardware
// catalog" is the whole point of keeping it a separate file from
// internal/config's own live-tunable settings.
func LoadDeviceManifest(path string) (DeviceManifest, error) {
	var m DeviceManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return DeviceManifest{}, errs.Wrapf(err, "config: loading device manifest %s", path)
	}
	return m, nil
}
