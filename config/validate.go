package config

import "fmt"

func ValidateConfig(g Global) error {
	quota := g.Quotas.Sale
	if quota.MaxUSDQPerEpoch > 0 && quota.EpochSeconds == 0 {
		return fmt.Errorf("quotas: sale epoch_seconds required when usdq cap set")
	}
	return nil
}
