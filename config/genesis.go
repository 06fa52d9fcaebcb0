package config

import (
	"github.com/dagchain/consensus/crypto"
	"github.com/dagchain/consensus/dag"
	"github.com/dagchain/consensus/epoch"
	"github.com/dagchain/consensus/permissions"
)

// GenesisBlock builds the unsigned timeslot-0 block: no parents, no
// transactions, timestamped at the configured genesis instant. Genesis is
// the last timeslot of era 0.
func GenesisBlock(cfg *Config) dag.SignedBlock {
	block := dag.Block{
		PrevHashes: nil,
		Timestamp:  cfg.Genesis.GenesisTimestamp,
	}
	return dag.SignedBlock{Block: block}
}

// EpochParams converts the JSON-loaded epoch config into epoch.Params.
func (c *Config) EpochParams() epoch.Params {
	return epoch.Params{
		GenesisTimestamp: c.Genesis.GenesisTimestamp,
		BlockTime:        c.Epoch.BlockTimeSeconds,
		RoundDuration:    c.Epoch.RoundDuration,
	}
}

// ActiveValidators converts the configured validator registry into
// permissions.Validator, the type the shuffle consumes.
func (c *Config) ActiveValidators() ([]permissions.Validator, error) {
	out := make([]permissions.Validator, 0, len(c.Validators))
	for _, v := range c.Validators {
		pub, err := crypto.PubKeyFromHex(v.PubKey)
		if err != nil {
			return nil, err
		}
		out = append(out, permissions.Validator{PubKey: pub, Stake: v.Stake})
	}
	return out, nil
}
