package config

const (
	defaultConfigPath          = "~/.config/flux/config.toml"
	defaultFFmpegBinary        = "ffmpeg"
	defaultInputFormat         = "x11grab"
	defaultDisplay             = ":0.0"
	defaultFramerate           = 30
	defaultAudioFormat         = "pulse"
	defaultSystemAudio         = "default.monitor"
	defaultMicrophone          = "default"
	defaultFlushIntervalMS     = 1000
	defaultPreferredMIME       = "video/webm;codecs=vp9,opus"
	defaultTrimMode            = TrimModePrecise
	defaultTrimPreset          = "ultrafast"
	defaultDownloadTimeout     = 120
	defaultProgressStep        = 20
	defaultProgressIntervalMS  = 200
	defaultCompletionThreshold = 5
	defaultMinTrimWindow       = 0.5
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogMaxSizeMB        = 20
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 30
)

// Trim strategy names accepted by trim.mode.
const (
	TrimModePrecise   = "precise"
	TrimModeHeuristic = "heuristic"
	TrimModeNone      = "none"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		// Vault, catalog, scratch, and log locations derive from DataDir
		// during normalization unless set explicitly.
		Paths: Paths{
			DataDir: defaultDataDir(),
		},
		Capture: Capture{
			FFmpegBinary:    defaultFFmpegBinary,
			InputFormat:     defaultInputFormat,
			Framerate:       defaultFramerate,
			AudioFormat:     defaultAudioFormat,
			SystemAudio:     defaultSystemAudio,
			Microphone:      defaultMicrophone,
			FlushIntervalMS: defaultFlushIntervalMS,
			PreferredMIME:   defaultPreferredMIME,
		},
		Trim: Trim{
			Mode:            defaultTrimMode,
			EngineBinary:    defaultFFmpegBinary,
			CacheDir:        defaultCacheDir(),
			Preset:          defaultTrimPreset,
			DownloadTimeout: defaultDownloadTimeout,
		},
		Pipeline: Pipeline{
			ProgressStep:        defaultProgressStep,
			ProgressIntervalMS:  defaultProgressIntervalMS,
			CompletionThreshold: defaultCompletionThreshold,
			MinTrimWindow:       defaultMinTrimWindow,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}
