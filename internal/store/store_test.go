package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
	"github.com/danielpatrickdp/flowtrace/internal/replay"
)

const model = `digraph DFA {
	I [label="root" shape=none];
	I -> 0;
	0 [label="fin(0):[2]\nsymb(1):[3,]\nattr(0):[2,7,]"];
	0 -> 1 [label="0 > 5 1 <= 3"];
	0 -> 0 [label="0 <= 5"];
	1 [label="fin(0):[1]\nsymb(1):[1,]"];
	1 -> 0 [label="1 > 3 || 0 < 2"];
}
`

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func parsed(t *testing.T) *automaton.Model {
	t.Helper()
	m, err := automaton.ParseString(model)
	require.NoError(t, err)
	return m
}

func TestSaveAndLoadModel(t *testing.T) {
	s := setupTestDB(t)
	m := parsed(t)
	_, err := replay.Replay(m, [][][]float64{{{6, 2}, {1, 9}}}, [][]int{{4, 5}}, replay.DefaultConfig())
	require.NoError(t, err)

	id, err := s.SaveModel(m, "model.dot")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	back, err := s.LoadModel(id)
	require.NoError(t, err)
	require.Equal(t, m.Len(), back.Len())
	for i := 0; i < m.Len(); i++ {
		want, got := m.At(i), back.At(i)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.FinalCount, got.FinalCount)
		assert.Equal(t, want.TotalCount, got.TotalCount)
		assert.Equal(t, want.Attributes, got.Attributes)
		assert.Equal(t, want.Edges, got.Edges)
		assert.Equal(t, want.Observed, got.Observed)
	}

	// The restored model fires like the original.
	next, ok := back.Fire(back.RootIndex(), nil)
	require.True(t, ok)
	assert.Equal(t, "0", back.At(next).ID)
}

func TestLoadModel_NotFound(t *testing.T) {
	s := setupTestDB(t)
	_, err := s.LoadModel("missing")
	assert.ErrorContains(t, err, "not found")
}

func TestSaveObservations_Replaces(t *testing.T) {
	s := setupTestDB(t)
	m := parsed(t)
	id, err := s.SaveModel(m, "model.dot")
	require.NoError(t, err)

	_, err = replay.Replay(m, [][][]float64{{{3, 0}}}, [][]int{{9}}, replay.Config{Kind: automaton.KindTest})
	require.NoError(t, err)
	require.NoError(t, s.SaveObservations(id, m))

	back, err := s.LoadModel(id)
	require.NoError(t, err)
	zero, _ := back.Node("0")
	assert.Equal(t, 1, zero.Visits(automaton.KindTest))
	assert.Equal(t, []int{9}, zero.Observed[automaton.KindTest].Indices)

	assert.Error(t, s.SaveObservations("missing", m))
}

func TestListModels(t *testing.T) {
	s := setupTestDB(t)
	for i := 0; i < 3; i++ {
		_, err := s.SaveModel(parsed(t), "model.dot")
		require.NoError(t, err)
	}
	recs, err := s.ListModels(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 3, recs[0].Nodes)
	assert.Equal(t, 4, recs[0].Edges)
	assert.Equal(t, "model.dot", recs[0].Source)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestRecordAndListReplays(t *testing.T) {
	s := setupTestDB(t)
	id, err := s.SaveModel(parsed(t), "model.dot")
	require.NoError(t, err)

	sum := replay.Summary{Traces: 2, Events: 5, Unmatched: 1, FinalStates: map[string]int{"0": 1, "1": 1}}
	runID, err := s.RecordReplay(id, automaton.KindTrain, sum)
	require.NoError(t, err)

	runs, err := s.ListReplays(id)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, "train", runs[0].Kind)
	assert.Equal(t, sum.FinalStates, runs[0].FinalStates)
	assert.Equal(t, 5, runs[0].Events)

	_, err = s.RecordReplay("missing", automaton.KindTrain, sum)
	assert.Error(t, err, "foreign key must reject unknown model")
}

func TestNewStore_File(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "flowtrace.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.NotNil(t, s.DB())
}
