// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("capture.ffmpegpath", "")
	viper.SetDefault("capture.display", ":0.0")
	viper.SetDefault("capture.videosize", "1920x1080")
	viper.SetDefault("capture.framerate", 30)
	viper.SetDefault("capture.videocodec", "libx264")
	viper.SetDefault("capture.preset", "ultrafast")
	viper.SetDefault("capture.audiosource", "default")
	viper.SetDefault("capture.chunklength", 15)
	viper.SetDefault("capture.maxcached", 120)
	viper.SetDefault("capture.tempdir", "")
	viper.SetDefault("capture.minfreemb", 512)

	viper.SetDefault("output.folder", "~/Videos/kapt")
	viper.SetDefault("output.template", "kapture-20060102-150405")
	viper.SetDefault("output.extension", "mp4")
	viper.SetDefault("output.defaultlength", 30)

	viper.SetDefault("server.listen", "127.0.0.1:7575")
	viper.SetDefault("server.kapturerate", 0.5)
	viper.SetDefault("server.kaptureburst", 2)

	viper.SetDefault("log.enabled", false)
	viper.SetDefault("log.path", "kapt.log")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.rotation", "daily")
	viper.SetDefault("log.maxsize", 10485760)

	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.dsn", "")
	viper.SetDefault("telemetry.prometheus.enabled", true)
	viper.SetDefault("telemetry.prometheus.path", "/metrics")
}
