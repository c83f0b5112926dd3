package app

// 构建信息，通过 -ldflags "-X eeprom-spoofer/internal/app.Version=..." 覆盖。
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
