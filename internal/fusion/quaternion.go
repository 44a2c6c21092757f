package fusion

import "math"

// quat is a Hamilton quaternion [w, x, y, z], identity-at-rest.
type quat struct {
	w, x, y, z float64
}

func identityQuat() quat { return quat{w: 1} }

// integrateGyro advances q by angular rate (rad/s) over dt seconds
// using the standard first-order quaternion derivative
// q̇ = 0.5 * q ⊗ (0, ω), then renormalizes — §4.F "Gyro-integrated
// rotation... renormalize each step".
func integrateGyro(q quat, gx, gy, gz, dt float64) quat {
	dq := quat{
		w: 0.5 * (-q.x*gx - q.y*gy - q.z*gz),
		x: 0.5 * (q.w*gx + q.y*gz - q.z*gy),
		y: 0.5 * (q.w*gy - q.x*gz + q.z*gx),
		z: 0.5 * (q.w*gz + q.x*gy - q.y*gx),
	}
	next := quat{
		w: q.w + dq.w*dt,
		x: q.x + dq.x*dt,
		y: q.y + dq.y*dt,
		z: q.z + dq.z*dt,
	}
	return next.normalized()
}

func (q quat) normalized() quat {
	n := math.Sqrt(q.w*q.w + q.x*q.x + q.y*q.y + q.z*q.z)
	if n == 0 {
		return identityQuat()
	}
	return quat{w: q.w / n, x: q.x / n, y: q.y / n, z: q.z / n}
}

// toEuler converts q to azimuth (yaw), pitch, roll in radians, using
// the standard aerospace Z-Y-X convention (§4.F "quaternion to
// azimuth/pitch/roll").
func (q quat) toEuler() (azimuth, pitch, roll float64) {
	sinrCosp := 2 * (q.w*q.x + q.y*q.z)
	cosrCosp := 1 - 2*(q.x*q.x+q.y*q.y)
	roll = math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.w*q.y - q.z*q.x)
	switch {
	case sinp >= 1:
		pitch = math.Pi / 2
	case sinp <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (q.w*q.z + q.x*q.y)
	cosyCosp := 1 - 2*(q.y*q.y+q.z*q.z)
	azimuth = math.Atan2(sinyCosp, cosyCosp)
	return azimuth, pitch, roll
}
