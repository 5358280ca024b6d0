package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StatusCollector scrapes a plain text status page, e.g. nginx stub_status,
// Apache server-status?auto or the PHP-FPM status page.
type StatusCollector struct {
	HTTPOptions
	Parser Parser // nil -> ParseKeyValues
}

func NewStatusCollector(url string, parser Parser, log *zap.Logger) *StatusCollector {
	return &StatusCollector{HTTPOptions: HTTPOptions{URL: url, Log: log}, Parser: parser}
}

func (s *StatusCollector) Collect(ctx context.Context) (map[string]float64, error) {
	body, err := s.get(ctx, s.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	parse := s.Parser
	if parse == nil {
		parse = ParseKeyValues
	}
	metrics, err := parse(body)
	if err != nil && len(metrics) == 0 {
		return nil, fmt.Errorf("parse %s: %w", s.URL, err)
	}
	if err != nil {
		s.logger().Debug("partial status page", zap.String("url", s.URL), zap.Error(err))
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("no metrics found on %s", s.URL)
	}
	return metrics, nil
}
