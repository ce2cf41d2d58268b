package oracle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	cases := map[string]func(*Params){
		"short epoch":             func(p *Params) { p.EpochDuration = time.Microsecond },
		"negative boost":          func(p *Params) { p.ParticipationBoost = -1 },
		"negative reputation":     func(p *Params) { p.InitialReputation = -5 },
		"floor above initial":     func(p *Params) { p.AccuracyFloor = 101 },
		"confidence out of range": func(p *Params) { p.Confidence = 101 },
		"negative tolerance":      func(p *Params) { p.OutlierTolerancePct = -0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			require.Error(t, p.Validate())
		})
	}

	zero := DefaultParams()
	zero.InitialReputation = 0
	zero.ParticipationBoost = 0
	require.NoError(t, zero.Validate())
}
