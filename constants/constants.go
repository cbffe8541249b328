// Package constants holds the compile-time defaults for the DHT. Only
// PlotSize and PlotDataDir can be overridden at runtime, through
// config.Config (DHT_PLOT_SIZE, DHT_DATA_DIR), which reads environment
// overrides via godotenv; every other value here is fixed at compile time.
package constants

const (
	Salt         = "dfss-ulak-bibliotheca"
	KeySizeBytes = 20 // 160-bit Kademlia ID (spec B = 160)

	// K is the bucket replication parameter.
	K = 20
	// B is the ID width in bits.
	B = 160
	// Alpha is the lookup concurrency parameter.
	Alpha = 3
	// SplitThreshold is the production bucket-splitting prefix threshold
	// (glossary "b"). Not to be confused with B, the ID width.
	SplitThreshold = 5

	ExpirationTimeSec = 86400 // tExpire / republish TTL
	TRefreshSec       = 3600
	TReplicateSec     = 3600
	TRepublishSec     = 86400

	// Proof of Space configuration (optional admission gate, see pos package).
	PlotSize    = 50 * 1024 * 1024 // 50 MB
	PlotDataDir = "data/plots"     // Directory for storing PoS plots
)
