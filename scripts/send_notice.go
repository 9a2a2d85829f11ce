package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harunnryd/fleetvoice/pkg/configutil"
	"github.com/harunnryd/fleetvoice/pkg/notify"
)

type notifyConfig struct {
	Notify struct {
		Provider string         `mapstructure:"provider"`
		Settings map[string]any `mapstructure:"settings"`
	} `mapstructure:"notify"`
}

func main() {
	configPath := flag.String("config", "configs/fleetvoice.yaml", "")
	to := flag.String("to", "", "override notify.settings.to")
	message := flag.String("message", "FleetVoice test notice", "")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := loadNotifyConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if !strings.EqualFold(strings.TrimSpace(cfg.Notify.Provider), "twilio") {
		fmt.Println("notify.provider is not twilio")
		os.Exit(1)
	}
	var settings notify.TwilioConfig
	if err := configutil.DecodeSettings(cfg.Notify.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	settings.AccountSID = os.ExpandEnv(settings.AccountSID)
	settings.AuthToken = os.ExpandEnv(settings.AuthToken)
	settings.From = os.ExpandEnv(settings.From)
	settings.To = os.ExpandEnv(settings.To)
	if *to != "" {
		settings.To = *to
	}
	n, err := notify.NewTwilioNotifier(settings, nil)
	if err != nil {
		fmt.Println("twilio error:", err)
		os.Exit(1)
	}
	sid, err := n.Send(strings.TrimSpace(settings.Prefix + " " + *message))
	if err != nil {
		fmt.Println("send error:", err)
		os.Exit(1)
	}
	fmt.Println("message_sid:", sid)
}

func loadNotifyConfig(path string) (notifyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return notifyConfig{}, err
	}
	var cfg notifyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return notifyConfig{}, err
	}
	return cfg, nil
}
