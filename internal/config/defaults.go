package config

const (
	defaultDataDir            = "~/.local/share/palmscroll"
	defaultServerAddr         = "127.0.0.1:8080"
	defaultCameraWidth        = 640
	defaultCameraHeight       = 480
	defaultCameraFPS          = 30
	defaultIdleFPS            = 10
	defaultLoadTimeoutSeconds = 30
	defaultMaxHands           = 1
	defaultMinConfidence      = 0.5
	defaultBrowserURL         = "https://en.wikipedia.org/wiki/Hand"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultServiceName        = "palmscroll"
	defaultPluginTimeoutMs    = 2000
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Server: Server{
			Addr: defaultServerAddr,
		},
		Camera: Camera{
			Width:   defaultCameraWidth,
			Height:  defaultCameraHeight,
			FPS:     defaultCameraFPS,
			IdleFPS: defaultIdleFPS,
		},
		Inference: Inference{
			LoadTimeoutSeconds: defaultLoadTimeoutSeconds,
			MaxHands:           defaultMaxHands,
			MinConfidence:      defaultMinConfidence,
		},
		Browser: Browser{
			URL: defaultBrowserURL,
		},
		Desktop: Desktop{
			PluginTimeoutMs: defaultPluginTimeoutMs,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Telemetry: Telemetry{
			ServiceName: defaultServiceName,
		},
		Tray: Tray{
			Enabled: true,
		},
	}
}
