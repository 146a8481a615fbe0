package notify

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twynelabs/liqbot/internal/config"
)

func testNotifier(t *testing.T, sink *[]payload) *Notifier {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		*sink = append(*sink, p)
	}))
	t.Cleanup(ts.Close)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	cfg := &config.Chain{
		ChainID:         8453,
		Name:            "base",
		ExplorerURL:     "https://basescan.org",
		NotificationURL: ts.URL,
		MentionIDs:      []string{"U123", "U456"},
		WatchlistVaults: map[common.Address]bool{
			common.HexToAddress("0x00000000000000000000000000000000000000aa"): true,
		},
	}
	return New(cfg, nil, logrus.NewEntry(log))
}

func TestPostDeliversPayload(t *testing.T) {
	var sink []payload
	n := testNotifier(t, &sink)

	n.Post("Test Title", "test body")

	require.Len(t, sink, 1)
	assert.Equal(t, "Test Title", sink[0].Title)
	assert.Equal(t, "test body", sink[0].Body)
	_, err := uuid.Parse(sink[0].ID)
	assert.NoError(t, err, "message id must be a valid uuid")
}

func TestPostDisabledWithoutURL(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	n := New(&config.Chain{Name: "base"}, nil, logrus.NewEntry(log))

	assert.False(t, n.Enabled())
	n.Post("title", "dropped silently")
}

func TestUnhealthyAccountBody(t *testing.T) {
	var sink []payload
	n := testNotifier(t, &sink)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	n.UnhealthyAccount(addr, false, 0.9512, 2.0,
		new(big.Int).Mul(big.NewInt(150), big.NewInt(1e18)), new(big.Int))

	require.Len(t, sink, 1)
	body := sink[0].Body
	assert.Contains(t, body, addr.Hex())
	assert.Contains(t, body, "0.9512")
	assert.Contains(t, body, "$150.00")
	assert.Contains(t, body, "`base`")
	assert.Contains(t, body, "<@U123> <@U456>")
}

func TestResultIncludesExplorerLink(t *testing.T) {
	var sink []payload
	n := testNotifier(t, &sink)

	hash := common.HexToHash("0xabc123")
	n.Result(common.Address{}, common.Address{}, big.NewInt(0), hash)

	require.Len(t, sink, 1)
	assert.Contains(t, sink[0].Body, "https://basescan.org/tx/"+hash.Hex())
}

func TestWatchedIsCaseInsensitive(t *testing.T) {
	var sink []payload
	n := testNotifier(t, &sink)

	assert.True(t, n.Watched("0x00000000000000000000000000000000000000AA"))
	assert.True(t, n.Watched("0x00000000000000000000000000000000000000aa"))
	assert.False(t, n.Watched("0x00000000000000000000000000000000000000bb"))
}

func TestHealthReportNoFindings(t *testing.T) {
	var sink []payload
	n := testNotifier(t, &sink)

	n.HealthReport(context.Background(), nil, 12, 34567.89, 1.1)

	require.Len(t, sink, 1)
	body := sink[0].Body
	assert.Contains(t, body, "No accounts with health score below `1.1`")
	assert.Contains(t, body, "`12` collateral vaults")
	assert.Contains(t, body, "$34567.89")
}
