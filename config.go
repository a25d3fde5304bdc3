package estuary

import (
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds the create-time options for the variable engine.
type Config struct {
	// ItemLimit bounds the number of live items; totalEntry is derived as
	// ceil(1.5 * ItemLimit), raised to 256 when smaller. A value whose
	// totalEntry would exceed 2^34 is rejected.
	ItemLimit uint64
	// MaxKeyLen bounds accepted key length, 1..255.
	MaxKeyLen uint32
	// MaxValLen bounds accepted value length, 1..2^24-1.
	MaxValLen uint32
	// AvgItemSize drives slab sizing; must be >= 2 and <= MaxKeyLen+MaxValLen.
	AvgItemSize uint32
}

func (c Config) validate() error {
	totalEntry := calcTotalEntry(c.ItemLimit)
	if totalEntry < minEntry || totalEntry > maxEntry ||
		c.MaxKeyLen == 0 || c.MaxKeyLen >= (uint32(1)<<8) ||
		c.MaxValLen == 0 || c.MaxValLen >= (uint32(1)<<24) ||
		c.AvgItemSize < 2 || uint64(c.AvgItemSize) > uint64(c.MaxKeyLen)+uint64(c.MaxValLen) {
		return ErrBadArgument
	}
	return nil
}

// LuckyConfig holds the create-time options for the fixed engine.
type LuckyConfig struct {
	// ItemLimit bounds the number of live items (the fixed engine's
	// capacity); the entry table is sized to 2x for load-factor headroom.
	ItemLimit uint32
	// KeyLen is the fixed key length, 1..255.
	KeyLen uint8
	// ValLen is the fixed value length, 0..65536.
	ValLen uint32
	// Concurrency is a hint for lock-pool fan-out. Nothing in this module
	// reads it: the read path is lock-free and the CLI's benchmark harness
	// runs a single fetch loop.
	Concurrency int
}

func (c LuckyConfig) validate() error {
	if c.ItemLimit < minLuckyCapacity || uint64(c.ItemLimit) > maxLuckyCapacity ||
		c.KeyLen == 0 ||
		c.ValLen > maxLuckyValLen {
		return ErrBadArgument
	}
	return nil
}

const (
	minEntry = uint64(256)
	maxEntry = uint64(1) << 34

	// minLuckyCapacity mirrors MIN_CAPACITY in the original fixed engine:
	// the smallest legal table gets a full recycle ring's worth of node
	// headroom, and the ring is sized at 2^16 slots, so the floor is the
	// same 2^16.
	minLuckyCapacity = uint32(1) << 16
	maxLuckyCapacity = uint64(1)<<32 - (uint64(1)<<16 + 1)
	maxLuckyValLen   = uint32(1) << 16
)

// configFile is the on-disk shape accepted by LoadConfigFile, expressed in
// HuJSON (JSON with comments and trailing commas) so operators can keep an
// annotated config checked into version control.
type configFile struct {
	ItemLimit   uint64 `json:"itemLimit"`
	MaxKeyLen   uint32 `json:"maxKeyLen"`
	MaxValLen   uint32 `json:"maxValLen"`
	AvgItemSize uint32 `json:"avgItemSize"`
}

// LoadConfigFile reads a HuJSON document (JSON, optionally with // and /* */
// comments and trailing commas) and returns the Config it describes.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, err
	}
	var cf configFile
	if err := json.Unmarshal(std, &cf); err != nil {
		return Config{}, err
	}
	return Config{
		ItemLimit:   cf.ItemLimit,
		MaxKeyLen:   cf.MaxKeyLen,
		MaxValLen:   cf.MaxValLen,
		AvgItemSize: cf.AvgItemSize,
	}, nil
}
