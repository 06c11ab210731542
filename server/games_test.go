package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindGame(t *testing.T) {
	g, ok := findGame("memory-game")
	require.True(t, ok)
	assert.Equal(t, 20, g.FunBonus)
	assert.Equal(t, 10, g.EnergyCost)

	_, ok = findGame("chess")
	assert.False(t, ok)
}

func TestScaledFunBonus(t *testing.T) {
	g, ok := findGame("memory-game") // 基础奖励 20
	require.True(t, ok)

	assert.Equal(t, 20, g.scaledFunBonus(0))
	assert.Equal(t, 10, g.scaledFunBonus(50))
	assert.Equal(t, 20, g.scaledFunBonus(100))
	// 倍率封顶 1.5
	assert.Equal(t, 30, g.scaledFunBonus(200))
	assert.Equal(t, 30, g.scaledFunBonus(10000))
}

func TestPlayGameAppliesCosts(t *testing.T) {
	s := newTestStore(t)
	e := NewDecayEngine(s, 25)
	p := newTestPet(t, s, "Rex", "user-1")
	_, _, err := s.UpdatePetStats(t.Context(), p.ID, StatVector{Hunger: 50, Hygiene: 50, Energy: 50, Fun: 50}, p.Version)
	require.NoError(t, err)

	game, _ := findGame("doodle-jump") // fun +25 / energy -15 / hunger -8
	pet, old, current, err := e.PlayGame(t.Context(), p.ID, "user-1", game, 0)
	require.NoError(t, err)
	assert.Equal(t, StatVector{Hunger: 50, Hygiene: 50, Energy: 50, Fun: 50}, old)
	assert.Equal(t, StatVector{Hunger: 42, Hygiene: 50, Energy: 35, Fun: 75}, current)
	assert.Equal(t, current, pet.Stats)

	got, err := s.GetPet(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, current, got.Stats)
}

func TestPlayGameEnergyGate(t *testing.T) {
	s := newTestStore(t)
	e := NewDecayEngine(s, 25)
	p := newTestPet(t, s, "Rex", "user-1")
	_, _, err := s.UpdatePetStats(t.Context(), p.ID, StatVector{Hunger: 50, Hygiene: 50, Energy: 5, Fun: 50}, p.Version)
	require.NoError(t, err)

	game, _ := findGame("memory-game") // 需要 10 点精力
	_, _, _, err = e.PlayGame(t.Context(), p.ID, "user-1", game, 0)
	assert.ErrorIs(t, err, ErrValidation)

	// 门槛拦截时不落库
	got, err := s.GetPet(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stats.Energy)
}

func TestPlayGameOwnerOnly(t *testing.T) {
	s := newTestStore(t)
	e := NewDecayEngine(s, 25)
	other := newTestPet(t, s, "NotMine", "user-b")
	stray := newTestPet(t, s, "Stray", "")
	game, _ := findGame("memory-game")

	_, _, _, err := e.PlayGame(t.Context(), other.ID, "user-a", game, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, _, err = e.PlayGame(t.Context(), stray.ID, "user-a", game, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, _, err = e.PlayGame(t.Context(), "ghost", "user-a", game, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
