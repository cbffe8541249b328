package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kutluhann/kademlia-dht/constants"
	"github.com/kutluhann/kademlia-dht/id_tools"
)

// Config is a simple in-memory holder for runtime configuration (private
// keys, identity, and the handful of settings an operator can override
// through a .env file or the process environment).
type Config struct {
	// privateKey holds either a *ecdsa.PrivateKey (Curve == "p256", the
	// default) or a *secp256k1.PrivateKey (Curve == "secp256k1"); which one
	// is determined entirely by Curve, so it is kept untyped here rather
	// than forcing every caller of Config to import both curve packages.
	privateKey any
	peerID     id_tools.PeerID

	ListenAddr    string
	BootstrapAddr string
	DataDir       string
	PlotSize      int64
	EnablePos     bool
	Curve         string
}

var (
	config     *Config
	configOnce sync.Once
)

// Init loads .env (if present) and builds the process-wide Config from
// the environment, falling back to constants package defaults.
func Init() *Config {
	configOnce.Do(func() {
		godotenv.Load()

		config = &Config{
			privateKey:    nil,
			peerID:        id_tools.PeerID{},
			ListenAddr:    getenv("DHT_LISTEN_ADDR", ":4000"),
			BootstrapAddr: os.Getenv("DHT_BOOTSTRAP_ADDR"),
			DataDir:       getenv("DHT_DATA_DIR", constants.PlotDataDir),
			PlotSize:      getenvInt64("DHT_PLOT_SIZE", constants.PlotSize),
			EnablePos:     getenvBool("DHT_ENABLE_POS", false),
			Curve:         getenv("DHT_CURVE", "p256"),
		}
	})
	return config
}

func GetConfig() *Config {
	if config == nil {
		return Init()
	}
	return config
}

func (c *Config) SetPrivateKey(key any) {
	c.privateKey = key
}

func (c *Config) GetPrivateKey() any {
	return c.privateKey
}

func (c *Config) HasPrivateKey() bool {
	return c.privateKey != nil
}

func (c *Config) GetPeerID() id_tools.PeerID {
	return c.peerID
}

func (c *Config) SetPeerID(pid id_tools.PeerID) {
	c.peerID = pid
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
