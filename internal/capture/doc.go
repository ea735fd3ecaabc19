// Package capture records the screen and audio into an in-memory payload.
//
// A Session requests the display (fatal when refused) and the microphone
// (optional), hands every granted track to an Encoder, and collects encoded
// output in chunks on a fixed flush interval. Devices and encoders are
// interfaces; FFmpegDevices and FFmpegEncoder implement them on Linux with
// x11grab and PulseAudio inputs encoded to VP9/Opus WebM.
package capture
