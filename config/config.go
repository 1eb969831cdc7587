package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"coharvest/core/decimal"
	"coharvest/crypto"
	"coharvest/native/bidpool"
)

// Params are the auction parameters the engine is initialised with.
type Params struct {
	Owner              string `toml:"Owner"`
	Treasury           string `toml:"Treasury"`
	Underlying         string `toml:"Underlying"`
	Distribution       string `toml:"Distribution"`
	MaxSlot            uint8  `toml:"MaxSlot"`
	PremiumRatePerSlot string `toml:"PremiumRatePerSlot"`
	MinDeposit         string `toml:"MinDeposit"`
	BiddingDuration    string `toml:"BiddingDuration"`
}

// Load loads the parameters from the given path. A missing file is created
// with defaults; the owner must still be filled in before Validate passes.
func Load(path string) (*Params, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	params := &Params{}
	meta, err := toml.DecodeFile(path, params)
	if err != nil {
		return nil, fmt.Errorf("decode params %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("params file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	applyDefaults(params)
	return params, nil
}

func defaults() *Params {
	return &Params{
		Underlying:         "native:orai",
		Distribution:       "native:usdc",
		MaxSlot:            25,
		PremiumRatePerSlot: "0.01",
		MinDeposit:         "10000",
		BiddingDuration:    "72h",
	}
}

func applyDefaults(p *Params) {
	d := defaults()
	if p.MaxSlot == 0 {
		p.MaxSlot = d.MaxSlot
	}
	if strings.TrimSpace(p.PremiumRatePerSlot) == "" {
		p.PremiumRatePerSlot = d.PremiumRatePerSlot
	}
	if strings.TrimSpace(p.MinDeposit) == "" {
		p.MinDeposit = d.MinDeposit
	}
	if strings.TrimSpace(p.BiddingDuration) == "" {
		p.BiddingDuration = d.BiddingDuration
	}
}

// createDefault creates and saves a default parameters file.
func createDefault(path string) (*Params, error) {
	params := defaults()
	if err := persist(path, params); err != nil {
		return nil, err
	}
	return params, nil
}

func persist(path string, params *Params) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(params)
}

// EngineConfig converts validated parameters into the engine snapshot.
func (p *Params) EngineConfig() (*bidpool.Config, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	owner, _ := crypto.DecodeAddress(p.Owner)
	var treasury crypto.Address
	if strings.TrimSpace(p.Treasury) != "" {
		treasury, _ = crypto.DecodeAddress(p.Treasury)
	}
	underlying, _ := bidpool.ParseAsset(p.Underlying)
	distribution, _ := bidpool.ParseAsset(p.Distribution)
	premium, _ := decimal.Parse(p.PremiumRatePerSlot)
	minDeposit, _ := decimal.ParseAmount(p.MinDeposit)
	duration, _ := time.ParseDuration(p.BiddingDuration)
	return &bidpool.Config{
		Owner:              owner,
		Treasury:           treasury,
		Underlying:         underlying,
		Distribution:       distribution,
		MaxSlot:            p.MaxSlot,
		PremiumRatePerSlot: premium,
		MinDeposit:         minDeposit,
		BiddingDuration:    uint64(duration / time.Second),
	}, nil
}
