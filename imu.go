package main

// Inertial collaborator boundary: the watch raises SecretGesture when the
// wearer smacks the dial. The detector turns raw accel/gyro samples into a
// single boolean signal; where the samples come from (I2C QMI8658, a replay
// file, the simulator) is the sampler's business.

// ImuSample is one accelerometer+gyro reading in raw sensor counts
// (~1000 counts per g at the 8g range used on the target board).
type ImuSample struct {
	Accel [3]int16
	Gyro  [3]int16
}

// AccelMagSq returns |a|^2 in raw counts squared.
func (s ImuSample) AccelMagSq() int64 {
	var sum int64
	for _, v := range s.Accel {
		sum += int64(v) * int64(v)
	}
	return sum
}

// GyroMagSq returns |g|^2 in raw counts squared.
func (s ImuSample) GyroMagSq() int64 {
	var sum int64
	for _, v := range s.Gyro {
		sum += int64(v) * int64(v)
	}
	return sum
}

// ImuSampler produces samples for the detector. Read returns false when no
// fresh sample is available this poll.
type ImuSampler interface {
	Read() (ImuSample, bool)
}

// SmashDetector recognizes a sharp dial smack and rejects drops, shakes and
// wrist swings. All thresholds are in raw counts (squared where noted).
type SmashDetector struct {
	thresholdSq     int64 // |a|^2 floor for a hit
	riseThresholdSq int64 // minimum |a|^2 jump since the previous sample
	freefallSq      int64 // below this the watch is falling, not hitting
	gyroLimitSq     int64 // rotation gate, overridden by very high accel

	// Dominant-axis gate: the strongest axis must beat the others by
	// ratioNum:ratioDen. Disabled while ratioNum is zero.
	ratioNum int64
	ratioDen int64

	// Gravity alignment gate, learned from the first quiet samples.
	gravityDir     [3]int64
	gravitySamples int
	axisBiasMinDot int64

	baselineMagSq int64 // EMA of resting |a|^2, for the jump gate

	cooldownMs    uint32
	lastMagSq     int64
	lastFreefall  bool
	lastTriggerMs uint64
}

// NewSmashDetector builds a detector with explicit raw thresholds.
func NewSmashDetector(threshold, rise, gyroLimit, freefall int32, cooldownMs uint32) *SmashDetector {
	return &SmashDetector{
		thresholdSq:     int64(threshold) * int64(threshold),
		riseThresholdSq: int64(rise) * int64(rise),
		freefallSq:      int64(freefall) * int64(freefall),
		gyroLimitSq:     int64(gyroLimit) * int64(gyroLimit),
		ratioDen:        1,
	}
}

// DefaultSmashDetector returns the tuning used on the target board:
// ~1.8g threshold, ~0.7g rise, a 60k gyro gate, 160ms cooldown and a 2:1
// dominant-axis requirement.
func DefaultSmashDetector() *SmashDetector {
	d := NewSmashDetector(1800, 700, 60000, 200, 160)
	d.ratioNum = 2
	d.ratioDen = 1
	return d
}

// Update feeds one sample and reports whether a smash fired. nowMs only
// needs to be monotonic; it drives the cooldown window.
func (d *SmashDetector) Update(nowMs uint64, s ImuSample) bool {
	magSq := s.AccelMagSq()
	gyroSq := s.GyroMagSq()
	inCooldown := nowMs-d.lastTriggerMs < uint64(d.cooldownMs) && d.lastTriggerMs != 0

	// If the previous sample was near zero-g the spike is a drop landing.
	freefallGuard := d.lastFreefall
	d.lastFreefall = magSq < d.freefallSq

	risingFast := magSq-d.lastMagSq >= d.riseThresholdSq
	d.lastMagSq = magSq

	d.learnGravity(magSq, s)

	axisOK := true
	if d.axisBiasMinDot > 0 {
		var dot int64
		for i := 0; i < 3; i++ {
			dot += int64(s.Accel[i]) * d.gravityDir[i]
		}
		axisOK = dot >= d.axisBiasMinDot
	}

	// Track the resting magnitude only while the gyro is quiet.
	if gyroSq < 10000 && magSq > 500000 && magSq < 2500000 {
		if d.baselineMagSq == 0 {
			d.baselineMagSq = magSq
		} else {
			d.baselineMagSq = (d.baselineMagSq*15 + magSq) / 16
		}
	}

	ratioOK := true
	if d.ratioNum > 0 {
		a0, a1, a2 := absInt64(s.Accel[0]), absInt64(s.Accel[1]), absInt64(s.Accel[2])
		max, mid, lo := sort3(a0, a1, a2)
		ratioOK = max*d.ratioDen >= mid*d.ratioNum && max*d.ratioDen >= lo*d.ratioNum
	}

	// A violent enough hit may spin the wrist; only gate on gyro below that.
	gyroOK := magSq > d.thresholdSq*4 || gyroSq < d.gyroLimitSq

	jumpOK := true
	if d.baselineMagSq > 0 {
		jumpOK = magSq > d.baselineMagSq*3
	}

	hit := !inCooldown && !freefallGuard && magSq >= d.thresholdSq &&
		risingFast && gyroOK && axisOK && ratioOK && jumpOK
	if hit {
		d.lastTriggerMs = nowMs
	}
	return hit
}

// learnGravity low-passes the gravity direction over the first 256 quiet
// samples, then enables the alignment gate at ~70% of |g|^2.
func (d *SmashDetector) learnGravity(magSq int64, s ImuSample) {
	if d.gravitySamples >= 256 || magSq <= 600000 || magSq >= 4000000 {
		return
	}
	k := int64(d.gravitySamples) + 1
	for i := 0; i < 3; i++ {
		d.gravityDir[i] = (d.gravityDir[i]*int64(d.gravitySamples) + int64(s.Accel[i])) / k
	}
	d.gravitySamples++
	if d.gravitySamples == 256 && d.axisBiasMinDot == 0 {
		var gmagSq int64
		for _, v := range d.gravityDir {
			gmagSq += v * v
		}
		d.axisBiasMinDot = gmagSq * 49 / 100
	}
}

func absInt64(v int16) int64 {
	if v < 0 {
		return -int64(v)
	}
	return int64(v)
}

func sort3(a, b, c int64) (max, mid, lo int64) {
	if a < b {
		a, b = b, a
	}
	if a < c {
		a, c = c, a
	}
	if b < c {
		b, c = c, b
	}
	return a, b, c
}
