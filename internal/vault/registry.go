package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/contracts"
)

type constructor func(ctx context.Context, addr common.Address, deps Deps) (CollateralVault, error)

var constructors = map[string]constructor{
	ProtocolEuler: newEulerVault,
	ProtocolAave:  newAaveVault,
}

// New constructs the adapter for a declared protocol tag.
func New(ctx context.Context, protocol string, addr common.Address, deps Deps) (CollateralVault, error) {
	build, ok := constructors[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
	}
	return build(ctx, addr, deps)
}

// DetectProtocol classifies a vault address by probing the Aave-only
// aToken() accessor: a non-zero return means Aave, a revert or zero
// return means Euler. The factory emits the same event for both, so this
// probe is the only classifier.
//
// A probe failure that does not look like a revert is reported through
// the returned error; the protocol still defaults to Euler.
func DetectProtocol(ctx context.Context, addr common.Address, backend bind.ContractBackend, log *logrus.Entry) (string, error) {
	probe := contracts.NewCollateralVault(addr, backend)
	aToken, err := probe.AToken(ctx)
	if err != nil {
		if isRevert(err) {
			log.WithField("vault", addr.Hex()).Debug("aToken probe reverted, classifying as euler")
			return ProtocolEuler, nil
		}
		log.WithField("vault", addr.Hex()).WithError(err).Warn("aToken probe failed, defaulting to euler")
		return ProtocolEuler, fmt.Errorf("%w: %v", ErrProtocolDetection, err)
	}
	if aToken != (common.Address{}) {
		return ProtocolAave, nil
	}
	return ProtocolEuler, nil
}

// isRevert matches execution reverts as surfaced by JSON-RPC providers.
// Anything else (timeouts, transport errors) is an unexpected failure.
func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "execution reverted")
}
