package conf

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch reloads settings when the config file changes on disk and passes the
// new settings to onChange. Invalid edits are logged and ignored.
func Watch(onChange func(*Settings)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		settings, err := unmarshalSettings()
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}

		settingsMutex.Lock()
		settingsInstance = settings
		settingsMutex.Unlock()

		logger.Info("config reloaded", "file", e.Name)
		if onChange != nil {
			onChange(settings)
		}
	})
	viper.WatchConfig()
}
