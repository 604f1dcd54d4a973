package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-candles/internal/bsc"
	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
)

// LogDecoder turns a Swap log into a normalized event.
type LogDecoder interface {
	Decode(ctx context.Context, lg types.Log) (domain.SwapEvent, error)
}

// BSCSource streams Swap logs of watched pairs from a node websocket.
type BSCSource struct {
	ws      bsc.LogSubscriber
	decoder LogDecoder
	pairs   []common.Address
	logger  *zap.Logger
}

// NewBSCSource creates a source for the given pair addresses.
func NewBSCSource(ws bsc.LogSubscriber, decoder LogDecoder, pairs []string, logger *zap.Logger) *BSCSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	addrs := make([]common.Address, 0, len(pairs))
	for _, p := range pairs {
		addrs = append(addrs, common.HexToAddress(p))
	}
	return &BSCSource{ws: ws, decoder: decoder, pairs: addrs, logger: logger}
}

// Name returns "bsc".
func (s *BSCSource) Name() string { return domain.SourceBSC }

// Subscribe opens one log subscription covering every watched pair.
func (s *BSCSource) Subscribe(ctx context.Context) (<-chan domain.SwapEvent, error) {
	if len(s.pairs) == 0 {
		return nil, fmt.Errorf("bsc source: no pairs to watch")
	}

	logs, err := s.ws.SubscribeLogs(ctx, bsc.SwapFilter(s.pairs))
	if err != nil {
		return nil, fmt.Errorf("subscribe swap logs: %w", err)
	}
	s.logger.Info("subscribed to swap logs", zap.Int("pairs", len(s.pairs)))

	out := make(chan domain.SwapEvent, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case lg, ok := <-logs:
				if !ok {
					s.logger.Warn("swap log subscription closed", zap.Error(domain.ErrConnectionLost))
					return
				}
				event, err := s.decoder.Decode(ctx, lg)
				if err != nil {
					s.drop(lg, err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *BSCSource) drop(lg types.Log, err error) {
	reason := "decode"
	if !errors.Is(err, domain.ErrTransientStreamFault) {
		reason = "lookup"
	}
	observability.RecordEventDropped(reason)
	s.logger.Debug("dropping swap log",
		zap.String("tx_hash", lg.TxHash.Hex()),
		zap.Uint("log_index", lg.Index),
		zap.Error(err))
}
