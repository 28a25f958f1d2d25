package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1.2, cfg.FullText.K1)
	assert.Equal(t, 0.75, cfg.FullText.B)
	assert.Equal(t, 64, cfg.FullText.BlockSize)
	assert.Equal(t, 1000, cfg.FullText.MinDocsForBMW)

	assert.Equal(t, 32, cfg.Vector.M)
	assert.Equal(t, 128, cfg.Vector.EfConstruction)
	assert.Equal(t, 64, cfg.Vector.EfSearch)
	assert.Equal(t, 2.0, cfg.Vector.ACORNGamma)

	assert.Equal(t, 20, cfg.Planner.InJoinThreshold)
	assert.Equal(t, 90*1024, cfg.Transform.LargeValueThresholdBytes)
	assert.Equal(t, 9*1024*1024, cfg.OnlineBuild.TxnSizeSoftLimit)
}

func TestLoad_OverridesOnTopOfDefaults(t *testing.T) {
	yamlDoc := []byte(`
full_text:
  k1: 1.5
vector:
  m: 48
`)
	cfg, err := Load(yamlDoc)
	require.NoError(t, err)

	assert.Equal(t, 1.5, cfg.FullText.K1)
	assert.Equal(t, 0.75, cfg.FullText.B, "unspecified fields keep their default")
	assert.Equal(t, 48, cfg.Vector.M)
	assert.Equal(t, 128, cfg.Vector.EfConstruction, "unspecified fields keep their default")
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	_, err := Load([]byte("not: [valid"))
	assert.Error(t, err)
}
