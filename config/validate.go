package config

import (
	"fmt"
	"strings"
	"time"

	"coharvest/core/decimal"
	"coharvest/crypto"
	"coharvest/native/bidpool"
)

func Validate(p *Params) error {
	if p == nil {
		return fmt.Errorf("params: nil")
	}
	if _, err := crypto.DecodeAddress(p.Owner); err != nil {
		return fmt.Errorf("params: Owner: %w", err)
	}
	if strings.TrimSpace(p.Treasury) != "" {
		if _, err := crypto.DecodeAddress(p.Treasury); err != nil {
			return fmt.Errorf("params: Treasury: %w", err)
		}
	}
	underlying, err := bidpool.ParseAsset(p.Underlying)
	if err != nil {
		return fmt.Errorf("params: Underlying: %w", err)
	}
	distribution, err := bidpool.ParseAsset(p.Distribution)
	if err != nil {
		return fmt.Errorf("params: Distribution: %w", err)
	}
	if underlying.Equal(distribution) {
		return fmt.Errorf("params: Underlying and Distribution must differ")
	}
	if p.MaxSlot == 0 {
		return fmt.Errorf("params: MaxSlot must be positive")
	}
	if _, err := decimal.Parse(p.PremiumRatePerSlot); err != nil {
		return fmt.Errorf("params: PremiumRatePerSlot: %w", err)
	}
	if _, err := decimal.ParseAmount(p.MinDeposit); err != nil {
		return fmt.Errorf("params: MinDeposit: %w", err)
	}
	duration, err := time.ParseDuration(p.BiddingDuration)
	if err != nil {
		return fmt.Errorf("params: BiddingDuration: %w", err)
	}
	if duration < time.Second {
		return fmt.Errorf("params: BiddingDuration must be at least one second")
	}
	return nil
}
