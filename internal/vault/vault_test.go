package vault

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigInt(v int64) *big.Int { return big.NewInt(v) }

// bigUSD converts whole dollars to the 1e18-scaled representation the
// health viewer uses.
func bigUSD(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestScoreMarshalInfinity(t *testing.T) {
	buf, err := json.Marshal(Score(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, `"Infinity"`, string(buf))
}

func TestScoreMarshalFinite(t *testing.T) {
	buf, err := json.Marshal(Score(1.0625))
	require.NoError(t, err)
	assert.Equal(t, "1.0625", string(buf))
}

func TestScoreUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`"Infinity"`, math.Inf(1)},
		{`"inf"`, math.Inf(1)},
		{`null`, math.Inf(1)},
		{`1.0625`, 1.0625},
		{`0`, 0},
	}
	for _, tc := range cases {
		var s Score
		require.NoError(t, json.Unmarshal([]byte(tc.in), &s), tc.in)
		if math.IsInf(tc.want, 1) {
			assert.True(t, math.IsInf(float64(s), 1), tc.in)
		} else {
			assert.Equal(t, tc.want, float64(s), tc.in)
		}
	}
}

func TestScoreUnmarshalRejectsGarbage(t *testing.T) {
	var s Score
	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &s))
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := Snapshot{
		Address:             "0x1111111111111111111111111111111111111111",
		Protocol:            ProtocolEuler,
		TimeOfNextUpdate:    1756000000.25,
		InternalHealthScore: Score(1.08),
		ExternalHealthScore: Score(math.Inf(1)),
	}

	buf, err := json.Marshal(snap)
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(buf, &back))
	assert.Equal(t, snap.Address, back.Address)
	assert.Equal(t, snap.Protocol, back.Protocol)
	assert.Equal(t, snap.TimeOfNextUpdate, back.TimeOfNextUpdate)
	assert.Equal(t, float64(snap.InternalHealthScore), float64(back.InternalHealthScore))
	assert.True(t, math.IsInf(float64(back.ExternalHealthScore), 1))
}

func TestStateMinHealthScore(t *testing.T) {
	st := State{
		InternalHealthScore: 1.2,
		ExternalHealthScore: 0.9,
		InternalBorrowed:    bigUSD(100),
		ExternalBorrowed:    bigUSD(50),
	}
	assert.Equal(t, 0.9, st.MinHealthScore())
	assert.InDelta(t, 150, st.TotalBorrowedUSD(), 1e-9)
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	_, err := New(context.Background(), "compound", common.Address{}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}
