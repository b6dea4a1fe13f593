package voice

// CaptureDevice pulls fixed-size microphone frames at a stable cadence and
// delivers them to a callback. A device is owned by exactly one session
// from acquisition to Close.
type CaptureDevice interface {
	// Start begins capture. onFrame is invoked from the device's own
	// goroutine with frames of the size requested at open time.
	Start(onFrame func(samples []float32)) error
	// Close stops capture and releases the device.
	Close() error
}

// PlaybackDevice renders decoded samples on an output device. Writes are
// appended to the device buffer and play back-to-back; Flush discards
// anything not yet rendered.
type PlaybackDevice interface {
	Play(samples []float32)
	Flush()
	Close() error
}

// DeviceProvider acquires audio devices for a session. Acquisition may
// block (permission prompts, device enumeration); failures surface as
// ErrDeviceUnavailable from Session.Start.
type DeviceProvider interface {
	OpenCapture(sampleRateHz, frameSamples int) (CaptureDevice, error)
	OpenPlayback(sampleRateHz int) (PlaybackDevice, error)
}
