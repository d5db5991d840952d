package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/viper"
)

const (
	// ListenAddrKey is the <host:port> the transport inbox listens on.
	ListenAddrKey = "LISTEN_ADDR"
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// ResponseTimeoutKey is the duration after which a pending trade round is
	// failed when the peer's expected response did not arrive.
	ResponseTimeoutKey = "RESPONSE_TIMEOUT"
	// SendTimeoutKey is the per-attempt deadline of one direct message delivery.
	SendTimeoutKey = "SEND_TIMEOUT"
	// MakerBtcAddressKey is the maker side receive address for the BTC leg of
	// atomic swap offers.
	MakerBtcAddressKey = "MAKER_BTC_ADDRESS"
	// MakerBsqAddressKey is the maker side receive address for the secondary
	// asset leg of atomic swap offers.
	MakerBsqAddressKey = "MAKER_BSQ_ADDRESS"

	DbLocation = "db"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("peertrade-daemon", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("PEERTRADE")
	vip.AutomaticEnv()

	vip.SetDefault(ListenAddrKey, "localhost:9735")
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(ResponseTimeoutKey, 160*time.Second)
	vip.SetDefault(SendTimeoutKey, 30*time.Second)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func GetDbDir() string {
	return filepath.Join(GetDatadir(), DbLocation)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if len(GetString(ListenAddrKey)) <= 0 {
		return fmt.Errorf("missing listen address")
	}

	if GetDuration(ResponseTimeoutKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", ResponseTimeoutKey)
	}
	if GetDuration(SendTimeoutKey) <= 0 {
		return fmt.Errorf("%s must be a positive duration", SendTimeoutKey)
	}

	return nil
}

func initDatadir() error {
	return makeDirectoryIfNotExists(GetDbDir())
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
