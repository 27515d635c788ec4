package oracle

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/sensorgrid/pipeline/pkg/config"
	"github.com/sensorgrid/pipeline/pkg/jsonpath"
	"github.com/sensorgrid/pipeline/pkg/models"
)

type sourcePrice struct {
	name  string
	value float64
}

// updatePriceFeed fans out to every configured source for the symbol,
// aggregates survivors, and publishes unless the move is below the
// feed's update threshold. Only total source failure raises an error.
func (s *Service) updatePriceFeed(ctx context.Context, feed *config.PriceFeedConfig) {
	start := s.nowFn()

	// Each fetch writes its own slot so the surviving sources keep
	// config order regardless of goroutine completion order.
	results := make([]*sourcePrice, len(feed.Sources))

	var wg sync.WaitGroup

	for i := range feed.Sources {
		source := feed.Sources[i]

		wg.Add(1)

		go func(slot int) {
			defer wg.Done()

			doc, latency, err := s.fetchJSON(ctx, http.MethodGet, source.URL, nil)
			s.recordLatency(feed.ID, latency)

			if err != nil {
				log.Printf("Price source %s failed for %s: %v", source.Name, feed.Symbol, err)
				return
			}

			value, err := jsonpath.LookupFloat(doc, source.Path)
			if err != nil {
				log.Printf("Price source %s: no value at %q for %s", source.Name, source.Path, feed.Symbol)
				return
			}

			results[slot] = &sourcePrice{name: source.Name, value: value}
		}(i)
	}

	wg.Wait()

	var (
		values []float64
		names  []string
	)

	for _, p := range results {
		if p == nil {
			continue
		}

		values = append(values, p.value)
		names = append(names, p.name)
	}

	if len(values) == 0 {
		s.recordError(feed.ID, "no_price_data",
			fmt.Sprintf("%v for symbol %s", ErrNoPriceData, feed.Symbol))

		return
	}

	aggregated := aggregate(values, feed.Method)

	if prev, ok := s.Latest(feed.ID); ok && feed.UpdateThreshold > 0 {
		if prevValue, isNum := prev.Value.Float(); isNum {
			if pctChange(prevValue, aggregated) < feed.UpdateThreshold {
				// Below the noise gate; skip the downstream update.
				return
			}
		}
	}

	s.publish(models.OracleData{
		OracleID:   feed.ID,
		Endpoint:   feed.Symbol,
		Timestamp:  s.nowFn(),
		Value:      models.NumericValue(aggregated),
		Confidence: confidence(values),
		Source:     strings.Join(names, ","),
		Latency:    s.nowFn().Sub(start),
	})
}
