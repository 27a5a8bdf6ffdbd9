package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# StockAlert Configuration

[monitor]
# How often stocks and currencies are refreshed
interval = "300s"
# Upper bound for a single fetch; expiry counts as a failed fetch
fetch_timeout = "10s"
# Kinds to poll: "stock", "currency"
kinds = ["stock", "currency"]

[feed]
# Market data API
base_url = "http://localhost:8000"
stocks_path = "/stocks"
currency_path = "/currency"

[notifications]
enabled = true
# Notification level: all, alerts_only
level = "all"

[notifications.terminal]
enabled = true
bell = true
color = true

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""

[notifications.kafka]
# Publish every trigger as a JSON event keyed by "<kind>:<id>"
enabled = false
brokers = ["localhost:9092"]
topic = "stockalert.triggers"

[server]
# Local control API (alerts, observations, history, /metrics)
enabled = true
addr = "127.0.0.1:8090"
requests_per_sec = 20.0
burst = 50
# Require "Authorization: Bearer <token>" on /api/v1; mint tokens with
# "stockalert token". Prefer STOCKALERT_JWT_SECRET in .env.
# jwt_secret = ""

[store]
# Journal of triggered alerts (SQLite)
enabled = true
# path = "~/.config/stockalert/history.db"

[logging]
level = "info"
console = true
file = false

# Alerts armed at startup. Each fires once when the value falls to or
# below the threshold.
#
# [[alerts]]
# kind = "stock"
# id = "AAPL"
# threshold = "150.0"
#
# [[alerts]]
# kind = "currency"
# id = "USD"
# threshold = "1.05"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
